package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"examscore/ml"
)

// Matrix is an encoded table: feature columns followed by the target column.
type Matrix [][]float64

// Split separates the feature columns from the trailing target column.
func (m Matrix) Split() (features [][]float64, targets []float64) {
	features = make([][]float64, len(m))
	targets = make([]float64, len(m))
	for i, row := range m {
		if len(row) == 0 {
			continue
		}
		features[i] = row[:len(row)-1]
		targets[i] = row[len(row)-1]
	}
	return features, targets
}

// Transformation fits the preprocessor on the train file and encodes both files.
type Transformation struct {
	ArtifactDir string
	Meta        ml.ArtifactMeta
	logger      *zap.Logger
}

func NewTransformation(artifactDir string, meta ml.ArtifactMeta, logger *zap.Logger) *Transformation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformation{
		ArtifactDir: artifactDir,
		Meta:        meta,
		logger:      logger.Named("transformation"),
	}
}

// Run reads the split files, fits a fresh transformer on the training
// features only, and persists it to preprocessor.json.
func (t *Transformation) Run(trainPath, testPath string) (train, test Matrix, preprocessorPath string, err error) {
	trainTable, err := ReadTable(trainPath, "utf-8")
	if err != nil {
		return nil, nil, "", fmt.Errorf("read train set: %w", err)
	}
	testTable, err := ReadTable(testPath, "utf-8")
	if err != nil {
		return nil, nil, "", fmt.Errorf("read test set: %w", err)
	}

	trainRows, trainY, err := featuresAndTarget(trainTable)
	if err != nil {
		return nil, nil, "", fmt.Errorf("train set: %w", err)
	}
	testRows, testY, err := featuresAndTarget(testTable)
	if err != nil {
		return nil, nil, "", fmt.Errorf("test set: %w", err)
	}

	preprocessor := ml.NewColumnTransformer()
	trainX, err := preprocessor.FitTransform(trainRows)
	if err != nil {
		return nil, nil, "", fmt.Errorf("fit preprocessor: %w", err)
	}
	testX, err := preprocessor.Transform(testRows)
	if err != nil {
		return nil, nil, "", fmt.Errorf("transform test set: %w", err)
	}

	preprocessorPath = filepath.Join(t.ArtifactDir, ml.PreprocessorFile)
	meta := t.Meta
	meta.Target = ml.TargetColumn
	meta.Features = preprocessor.OutputNames()
	if err := ml.SaveArtifact(preprocessorPath, preprocessor, meta); err != nil {
		return nil, nil, "", fmt.Errorf("save preprocessor: %w", err)
	}

	t.logger.Info("preprocessor fitted",
		zap.Int("train_rows", len(trainRows)),
		zap.Int("test_rows", len(testRows)),
		zap.Int("encoded_columns", preprocessor.OutputWidth()),
		zap.String("path", preprocessorPath))

	return withTarget(trainX, trainY), withTarget(testX, testY), preprocessorPath, nil
}

func featuresAndTarget(t *Table) ([]ml.FeatureRow, []float64, error) {
	target := t.Column(ml.TargetColumn)
	if target < 0 {
		return nil, nil, &ml.SchemaError{Column: ml.TargetColumn, Reason: "target column missing"}
	}
	rows, err := ml.RowsFromTable(t.Header, t.Rows)
	if err != nil {
		return nil, nil, err
	}

	y := make([]float64, len(t.Rows))
	for i, rec := range t.Rows {
		if target >= len(rec) {
			return nil, nil, &ml.SchemaError{Column: ml.TargetColumn, Reason: fmt.Sprintf("row %d is short", i+1)}
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[target]), 64)
		if err != nil {
			return nil, nil, &ml.SchemaError{
				Column: ml.TargetColumn,
				Reason: fmt.Sprintf("row %d: invalid value %q", i+1, rec[target]),
			}
		}
		y[i] = v
	}
	return rows, y, nil
}

func withTarget(features [][]float64, targets []float64) Matrix {
	m := make(Matrix, len(features))
	for i, row := range features {
		out := make([]float64, len(row)+1)
		copy(out, row)
		out[len(row)] = targets[i]
		m[i] = out
	}
	return m
}
