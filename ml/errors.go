package ml

import (
	"errors"
	"fmt"
)

var (
	ErrNotFitted     = errors.New("not fitted: call Fit before Transform or Predict")
	ErrAlreadyFitted = errors.New("already fitted")
)

// SchemaError reports a table or matrix that does not match the feature schema.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error: %s: %s", e.Column, e.Reason)
}

// ArtifactLoadError wraps an unreadable or corrupt artifact file.
type ArtifactLoadError struct {
	Path string
	Err  error
}

func (e *ArtifactLoadError) Error() string {
	return fmt.Sprintf("load artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactLoadError) Unwrap() error { return e.Err }
