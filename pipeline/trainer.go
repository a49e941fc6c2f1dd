package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"examscore/ml"
)

var ErrScoreBelowMinimum = errors.New("test score below configured minimum")

// TrainerConfig 模型训练配置
type TrainerConfig struct {
	ArtifactDir    string
	ModelType      string
	MinScore       float64
	BundlePipeline bool
}

// Trainer fits the regressor on an encoded train matrix and scores it on the test matrix.
type Trainer struct {
	config TrainerConfig
	Meta   ml.ArtifactMeta
	logger *zap.Logger
}

func NewTrainer(config TrainerConfig, meta ml.ArtifactMeta, logger *zap.Logger) *Trainer {
	if config.ModelType == "" {
		config.ModelType = ml.LinearRegressionType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, Meta: meta, logger: logger.Named("trainer")}
}

func newModel(modelType string) (*ml.LinearRegression, error) {
	switch modelType {
	case ml.LinearRegressionType:
		return ml.NewLinearRegression(), nil
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
}

// FitAndEvaluate trains on train, reports R², RMSE and MAE on test and
// persists model.json. With BundlePipeline set it also writes pipeline.json
// from the preprocessor already saved in the artifact directory.
func (t *Trainer) FitAndEvaluate(train, test Matrix) (ml.Metrics, error) {
	if len(train) == 0 {
		return ml.Metrics{}, errors.New("empty training matrix")
	}
	if len(test) == 0 {
		return ml.Metrics{}, errors.New("empty test matrix")
	}

	model, err := newModel(t.config.ModelType)
	if err != nil {
		return ml.Metrics{}, err
	}
	trainX, trainY := train.Split()
	if err := model.Fit(trainX, trainY); err != nil {
		return ml.Metrics{}, fmt.Errorf("fit model: %w", err)
	}

	testX, testY := test.Split()
	predicted, err := model.Predict(testX)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("predict test set: %w", err)
	}
	metrics, err := ml.Evaluate(testY, predicted)
	if err != nil {
		return ml.Metrics{}, err
	}

	t.logger.Info("model evaluated",
		zap.String("model_type", t.config.ModelType),
		zap.Float64("r2", metrics.R2),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("mae", metrics.MAE),
		zap.Int("test_rows", metrics.N))

	if t.config.MinScore > 0 && metrics.R2 < t.config.MinScore {
		return metrics, fmt.Errorf("%w: r2 %.4f < %.4f", ErrScoreBelowMinimum, metrics.R2, t.config.MinScore)
	}

	meta := t.Meta
	meta.Target = ml.TargetColumn
	modelPath := filepath.Join(t.config.ArtifactDir, ml.ModelFile)
	if err := ml.SaveArtifact(modelPath, model, meta); err != nil {
		return metrics, fmt.Errorf("save model: %w", err)
	}

	if t.config.BundlePipeline {
		if err := t.bundle(model, meta); err != nil {
			return metrics, err
		}
	}
	return metrics, nil
}

func (t *Trainer) bundle(model *ml.LinearRegression, meta ml.ArtifactMeta) error {
	path := filepath.Join(t.config.ArtifactDir, ml.PreprocessorFile)
	obj, _, err := ml.LoadArtifact(path)
	if err != nil {
		return fmt.Errorf("bundle pipeline: %w", err)
	}
	preprocessor, ok := obj.(*ml.ColumnTransformer)
	if !ok {
		return fmt.Errorf("bundle pipeline: %s holds a %s", path, ml.Classify(obj))
	}
	pipelinePath := filepath.Join(t.config.ArtifactDir, ml.PipelineFile)
	if err := ml.SaveArtifact(pipelinePath, ml.NewPipeline(preprocessor, model), meta); err != nil {
		return fmt.Errorf("save pipeline: %w", err)
	}
	t.logger.Info("pipeline bundled", zap.String("path", pipelinePath))
	return nil
}
