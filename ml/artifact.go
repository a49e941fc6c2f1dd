package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ArtifactFormat = "examscore.artifact/v1"

	PipelineFile     = "pipeline.json"
	ModelFile        = "model.json"
	PreprocessorFile = "preprocessor.json"
	// LegacyPreprocessorFile is the misspelled name older training runs wrote.
	LegacyPreprocessorFile = "prepocessor_obj.json"
)

type ArtifactKind int

const (
	KindUnusable ArtifactKind = iota
	KindPipeline
	KindModel
	KindPreprocessor
)

func (k ArtifactKind) String() string {
	switch k {
	case KindPipeline:
		return "pipeline"
	case KindModel:
		return "model"
	case KindPreprocessor:
		return "preprocessor"
	default:
		return "unusable"
	}
}

type ArtifactMeta struct {
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Target    string    `json:"target,omitempty"`
	Features  []string  `json:"features,omitempty"`
}

type artifactFile struct {
	Format       string             `json:"format"`
	ModelType    string             `json:"model_type,omitempty"`
	Preprocessor *ColumnTransformer `json:"preprocessor,omitempty"`
	Model        json.RawMessage    `json:"model,omitempty"`
	Meta         ArtifactMeta       `json:"meta"`
}

// emptyArtifact is what a well-formed file with neither section decodes to.
type emptyArtifact struct{}

// Classify tags a loaded object by the capabilities it implements.
func Classify(obj any) ArtifactKind {
	_, predictsRows := obj.(RowPredictor)
	_, transforms := obj.(Transformer)
	_, regresses := obj.(Regressor)
	switch {
	case predictsRows && transforms:
		return KindPipeline
	case regresses:
		return KindModel
	case transforms:
		return KindPreprocessor
	default:
		return KindUnusable
	}
}

// SaveArtifact writes a *Pipeline, *LinearRegression or *ColumnTransformer.
// The file is written next to path and renamed into place.
func SaveArtifact(path string, obj any, meta ArtifactMeta) error {
	file := artifactFile{Format: ArtifactFormat, Meta: meta}
	var model *LinearRegression
	switch v := obj.(type) {
	case *Pipeline:
		file.Preprocessor = v.Preprocessor
		model = v.Model
	case *LinearRegression:
		model = v
	case *ColumnTransformer:
		file.Preprocessor = v
	default:
		return fmt.Errorf("save artifact: unsupported type %T", obj)
	}
	if file.Preprocessor != nil && !file.Preprocessor.Fitted {
		return fmt.Errorf("save artifact: preprocessor: %w", ErrNotFitted)
	}
	if model != nil {
		if !model.Fitted {
			return fmt.Errorf("save artifact: model: %w", ErrNotFitted)
		}
		raw, err := json.Marshal(model)
		if err != nil {
			return err
		}
		file.ModelType = LinearRegressionType
		file.Model = raw
	}
	if file.Meta.CreatedAt.IsZero() {
		file.Meta.CreatedAt = time.Now().UTC()
	}

	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadArtifact reads an artifact file. Errors are *ArtifactLoadError.
func LoadArtifact(path string) (any, ArtifactMeta, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, ArtifactMeta{}, &ArtifactLoadError{Path: path, Err: err}
	}
	var file artifactFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, ArtifactMeta{}, &ArtifactLoadError{Path: path, Err: err}
	}
	if file.Format != ArtifactFormat {
		return nil, file.Meta, &ArtifactLoadError{Path: path, Err: fmt.Errorf("unsupported format %q", file.Format)}
	}

	var model *LinearRegression
	if len(file.Model) > 0 && string(file.Model) != "null" {
		model, err = loadModel(file.ModelType, file.Model)
		if err != nil {
			return nil, file.Meta, &ArtifactLoadError{Path: path, Err: err}
		}
	}
	if file.Preprocessor != nil {
		if err := file.Preprocessor.Validate(); err != nil {
			return nil, file.Meta, &ArtifactLoadError{Path: path, Err: fmt.Errorf("preprocessor: %w", err)}
		}
	}

	switch {
	case model != nil && file.Preprocessor != nil:
		return NewPipeline(file.Preprocessor, model), file.Meta, nil
	case model != nil:
		return model, file.Meta, nil
	case file.Preprocessor != nil:
		return file.Preprocessor, file.Meta, nil
	default:
		return emptyArtifact{}, file.Meta, nil
	}
}

func loadModel(modelType string, raw json.RawMessage) (*LinearRegression, error) {
	switch modelType {
	case LinearRegressionType:
		model := &LinearRegression{}
		if err := json.Unmarshal(raw, model); err != nil {
			return nil, err
		}
		if err := model.Validate(); err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}

// MigrateLegacyArtifacts renames artifacts written under legacy names to their
// canonical names. A canonical file that already exists is never overwritten.
func MigrateLegacyArtifacts(dir string) ([]string, error) {
	legacy := map[string]string{
		LegacyPreprocessorFile: PreprocessorFile,
	}
	var moved []string
	for from, to := range legacy {
		src := filepath.Join(dir, from)
		dst := filepath.Join(dir, to)
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return moved, err
		}
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return moved, err
		}
		moved = append(moved, from+" -> "+to)
	}
	return moved, nil
}
