package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examscore/config"
	"examscore/db"
	"examscore/ml"
)

// RunRecorder persists training history. *db.Store satisfies it.
type RunRecorder interface {
	SaveTrainingRun(ctx context.Context, run db.TrainingRun) error
	SaveQualityIssues(ctx context.Context, runID string, issues []db.QualityIssue) error
}

// RunResult 训练结果
type RunResult struct {
	RunID        string
	Metrics      ml.Metrics
	TrainRows    int
	TestRows     int
	FeatureCount int
	ArtifactDir  string
	Issues       []QualityIssue
	Duration     time.Duration
}

// Run statuses recorded in training history.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// stagingPrefix names the per-run directory inside the artifact directory.
const stagingPrefix = ".staging-"

// Train runs split, transformation and model training for source. Every file
// is written to a staging directory first and moved into cfg.Artifacts.Dir
// only when the whole run succeeds, so a failed run leaves the previous
// artifact set untouched. recorder may be nil; failed runs are recorded too.
func Train(ctx context.Context, cfg *config.Config, source string, recorder RunRecorder, logger *zap.Logger) (*RunResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == "" {
		return nil, errors.New("training source is required")
	}

	started := time.Now()
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	dir := cfg.Artifacts.Dir
	staging := filepath.Join(dir, stagingPrefix+runID)
	defer os.RemoveAll(staging)

	result := &RunResult{RunID: runID, ArtifactDir: dir}
	err := train(ctx, cfg, source, staging, result, logger)
	if err == nil {
		err = promote(staging, dir, cfg.Training.BundlePipeline)
	}
	result.Duration = time.Since(started)

	if recorder != nil {
		status := RunSucceeded
		if err != nil {
			status = RunFailed
		}
		// a cancelled run is still recorded
		if recErr := record(context.WithoutCancel(ctx), recorder, cfg.Training.ModelType, result, started, status, err); recErr != nil {
			logger.Warn("failed to record training run", zap.Error(recErr))
		}
	}
	if err != nil {
		return nil, err
	}

	logger.Info("training finished",
		zap.Float64("r2", result.Metrics.R2),
		zap.Duration("duration", result.Duration),
		zap.String("artifact_dir", dir))
	return result, nil
}

// train runs the stages into staging, filling result as it goes.
func train(ctx context.Context, cfg *config.Config, source, staging string, result *RunResult, logger *zap.Logger) error {
	meta := ml.ArtifactMeta{RunID: result.RunID, CreatedAt: time.Now().UTC()}

	splitter := NewSplitter(SplitConfig{
		ArtifactDir: staging,
		Encoding:    cfg.Training.SourceEncoding,
		TestRatio:   cfg.Training.TestRatio,
		Seed:        cfg.Training.Seed,
	}, logger)
	trainPath, testPath, err := splitter.LoadAndSplit(source)
	result.Issues = splitter.Issues()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	trainSet, testSet, _, err := NewTransformation(staging, meta, logger).Run(trainPath, testPath)
	if err != nil {
		return err
	}
	result.TrainRows = len(trainSet)
	result.TestRows = len(testSet)
	if len(trainSet) > 0 {
		result.FeatureCount = len(trainSet[0]) - 1
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	trainer := NewTrainer(TrainerConfig{
		ArtifactDir:    staging,
		ModelType:      cfg.Training.ModelType,
		MinScore:       cfg.Training.MinScore,
		BundlePipeline: cfg.Training.BundlePipeline,
	}, meta, logger)
	metrics, err := trainer.FitAndEvaluate(trainSet, testSet)
	result.Metrics = metrics
	return err
}

// promote moves a finished run from staging into dir. Without a bundled
// pipeline, an older pipeline.json is removed so it cannot shadow the new
// model and preprocessor.
func promote(staging, dir string, bundled bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	names := []string{RawDataFile, TrainFile, TestFile, ml.PreprocessorFile, ml.ModelFile}
	if bundled {
		names = append(names, ml.PipelineFile)
	} else if err := os.Remove(filepath.Join(dir, ml.PipelineFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale pipeline: %w", err)
	}
	for _, name := range names {
		if err := os.Rename(filepath.Join(staging, name), filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("promote %s: %w", name, err)
		}
	}
	return nil
}

func record(ctx context.Context, recorder RunRecorder, modelType string, result *RunResult, started time.Time, status string, runErr error) error {
	run := db.TrainingRun{
		RunID:        result.RunID,
		ModelType:    modelType,
		Status:       status,
		R2:           result.Metrics.R2,
		RMSE:         result.Metrics.RMSE,
		MAE:          result.Metrics.MAE,
		TrainRows:    result.TrainRows,
		TestRows:     result.TestRows,
		FeatureCount: result.FeatureCount,
		ArtifactDir:  result.ArtifactDir,
		TrainedAt:    started,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := recorder.SaveTrainingRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	issues := make([]db.QualityIssue, len(result.Issues))
	for i, issue := range result.Issues {
		issues[i] = db.QualityIssue{
			Row:      issue.Row,
			Column:   issue.Column,
			Rule:     issue.Rule,
			Severity: issue.Severity,
			Message:  issue.Message,
		}
	}
	if err := recorder.SaveQualityIssues(ctx, result.RunID, issues); err != nil {
		return fmt.Errorf("save quality issues: %w", err)
	}
	return nil
}
