package serving

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyBatch = errors.New("empty batch: no instances to predict")

// ModelUnavailableError is returned for every prediction when artifact
// resolution found neither a pipeline nor a model.
type ModelUnavailableError struct {
	Diagnostics []string
}

func (e *ModelUnavailableError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "model not loaded"
	}
	return "model not loaded: " + strings.Join(e.Diagnostics, "; ")
}

// RequestShapeError identifies a malformed instance. Index is -1 when the
// payload as a whole is malformed.
type RequestShapeError struct {
	Index  int
	Reason string
}

func (e *RequestShapeError) Error() string {
	if e.Index < 0 {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid instance %d: %s", e.Index, e.Reason)
}

// NumericCoercionError reports a form value that must be a number but is not.
type NumericCoercionError struct {
	Field string
	Value string
}

func (e *NumericCoercionError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s is required and must be a number", e.Field)
	}
	return fmt.Sprintf("%s must be a number, got %q", e.Field, e.Value)
}

// IsInputError reports whether err was caused by the caller's input.
func IsInputError(err error) bool {
	var shape *RequestShapeError
	var coercion *NumericCoercionError
	return errors.Is(err, ErrEmptyBatch) || errors.As(err, &shape) || errors.As(err, &coercion)
}
