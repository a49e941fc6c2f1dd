package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"examscore/config"
	"examscore/db"
	"examscore/ml"
)

func transformedDataset(t *testing.T, n int) (dir string, train, test Matrix) {
	t.Helper()
	dir, trainPath, testPath := splitDataset(t, n)
	train, test, _, err := NewTransformation(dir, ml.ArtifactMeta{RunID: "r1"}, nil).Run(trainPath, testPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return dir, train, test
}

func TestFitAndEvaluate(t *testing.T) {
	dir, train, test := transformedDataset(t, 200)

	trainer := NewTrainer(TrainerConfig{ArtifactDir: dir, MinScore: 0.5}, ml.ArtifactMeta{RunID: "r1"}, nil)
	metrics, err := trainer.FitAndEvaluate(train, test)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.R2 < 0.9 || metrics.N != 40 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	obj, _, err := ml.LoadArtifact(filepath.Join(dir, ml.ModelFile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ml.Classify(obj) != ml.KindModel {
		t.Fatalf("expected model artifact, got %s", ml.Classify(obj))
	}
	if _, err := os.Stat(filepath.Join(dir, ml.PipelineFile)); !os.IsNotExist(err) {
		t.Fatal("pipeline.json written without bundling enabled")
	}
}

func TestFitAndEvaluateBundle(t *testing.T) {
	dir, train, test := transformedDataset(t, 100)

	trainer := NewTrainer(TrainerConfig{ArtifactDir: dir, BundlePipeline: true}, ml.ArtifactMeta{}, nil)
	if _, err := trainer.FitAndEvaluate(train, test); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, _, err := ml.LoadArtifact(filepath.Join(dir, ml.PipelineFile))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ml.Classify(obj) != ml.KindPipeline {
		t.Fatalf("expected pipeline artifact, got %s", ml.Classify(obj))
	}
}

func TestFitAndEvaluateErrors(t *testing.T) {
	dir, train, test := transformedDataset(t, 60)

	tests := []struct {
		name   string
		config TrainerConfig
		train  Matrix
		test   Matrix
		is     error
	}{
		{name: "empty train", config: TrainerConfig{ArtifactDir: dir}, train: nil, test: test},
		{name: "empty test", config: TrainerConfig{ArtifactDir: dir}, train: train, test: Matrix{}},
		{name: "unknown model", config: TrainerConfig{ArtifactDir: dir, ModelType: "svm"}, train: train, test: test},
		{name: "ragged", config: TrainerConfig{ArtifactDir: dir}, train: Matrix{{1, 2, 3}, {1, 2}}, test: test},
		{name: "below minimum", config: TrainerConfig{ArtifactDir: dir, MinScore: 1.01}, train: train, test: test, is: ErrScoreBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTrainer(tt.config, ml.ArtifactMeta{}, nil).FitAndEvaluate(tt.train, tt.test)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
		})
	}
}

type memoryRecorder struct {
	runs   []db.TrainingRun
	issues map[string][]db.QualityIssue
}

func (m *memoryRecorder) SaveTrainingRun(_ context.Context, run db.TrainingRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryRecorder) SaveQualityIssues(_ context.Context, runID string, issues []db.QualityIssue) error {
	if m.issues == nil {
		m.issues = make(map[string][]db.QualityIssue)
	}
	m.issues[runID] = issues
	return nil
}

func TestTrain(t *testing.T) {
	source := filepath.Join(t.TempDir(), "stud.csv")
	writeDataset(t, source, 120)

	cfg := config.Default()
	cfg.Artifacts.Dir = filepath.Join(t.TempDir(), "artifacts")
	cfg.Training.BundlePipeline = true

	recorder := &memoryRecorder{}
	result, err := Train(context.Background(), cfg, source, recorder, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunID == "" || result.TrainRows != 96 || result.TestRows != 24 {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, name := range []string{RawDataFile, TrainFile, TestFile, ml.PreprocessorFile, ml.ModelFile, ml.PipelineFile} {
		if _, err := os.Stat(filepath.Join(cfg.Artifacts.Dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if len(recorder.runs) != 1 || recorder.runs[0].RunID != result.RunID {
		t.Fatalf("expected one recorded run, got %+v", recorder.runs)
	}
	if recorder.runs[0].FeatureCount != result.FeatureCount || result.FeatureCount == 0 {
		t.Fatalf("unexpected feature count %d", result.FeatureCount)
	}
	if recorder.runs[0].Status != RunSucceeded {
		t.Fatalf("expected status %s, got %q", RunSucceeded, recorder.runs[0].Status)
	}
	assertNoStaging(t, cfg.Artifacts.Dir)
}

func TestTrainCancelled(t *testing.T) {
	source := filepath.Join(t.TempDir(), "stud.csv")
	writeDataset(t, source, 20)
	cfg := config.Default()
	cfg.Artifacts.Dir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Train(ctx, cfg, source, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func artifactRunID(t *testing.T, dir, name string) string {
	t.Helper()
	_, meta, err := ml.LoadArtifact(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return meta.RunID
}

func assertNoStaging(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), stagingPrefix) {
			t.Fatalf("staging directory %s left behind", e.Name())
		}
	}
}

func TestTrainRejectedRunKeepsPreviousArtifacts(t *testing.T) {
	sourceDir := t.TempDir()
	cfg := config.Default()
	cfg.Artifacts.Dir = filepath.Join(t.TempDir(), "artifacts")

	first := filepath.Join(sourceDir, "first.csv")
	writeDataset(t, first, 120)
	previous, err := Train(context.Background(), cfg, first, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trainBefore := readFile(t, filepath.Join(cfg.Artifacts.Dir, TrainFile))

	second := filepath.Join(sourceDir, "second.csv")
	writeDataset(t, second, 60)
	cfg.Training.MinScore = 1.01
	recorder := &memoryRecorder{}
	if _, err := Train(context.Background(), cfg, second, recorder, nil); !errors.Is(err, ErrScoreBelowMinimum) {
		t.Fatalf("expected ErrScoreBelowMinimum, got %v", err)
	}

	for _, name := range []string{ml.PreprocessorFile, ml.ModelFile} {
		if got := artifactRunID(t, cfg.Artifacts.Dir, name); got != previous.RunID {
			t.Fatalf("%s: expected run %s, got %s", name, previous.RunID, got)
		}
	}
	if got := readFile(t, filepath.Join(cfg.Artifacts.Dir, TrainFile)); got != trainBefore {
		t.Fatal("train set was replaced by the rejected run")
	}
	assertNoStaging(t, cfg.Artifacts.Dir)

	if len(recorder.runs) != 1 {
		t.Fatalf("expected the rejected run to be recorded, got %+v", recorder.runs)
	}
	run := recorder.runs[0]
	if run.Status != RunFailed || !strings.Contains(run.Error, "below configured minimum") || run.R2 == 0 {
		t.Fatalf("unexpected recorded run: %+v", run)
	}
}

func TestTrainWithoutBundleRemovesStalePipeline(t *testing.T) {
	source := filepath.Join(t.TempDir(), "stud.csv")
	writeDataset(t, source, 120)
	cfg := config.Default()
	cfg.Artifacts.Dir = filepath.Join(t.TempDir(), "artifacts")

	cfg.Training.BundlePipeline = true
	if _, err := Train(context.Background(), cfg, source, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Artifacts.Dir, ml.PipelineFile)); err != nil {
		t.Fatalf("expected a bundled pipeline: %v", err)
	}

	cfg.Training.BundlePipeline = false
	latest, err := Train(context.Background(), cfg, source, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Artifacts.Dir, ml.PipelineFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale pipeline to be removed, got %v", err)
	}
	for _, name := range []string{ml.PreprocessorFile, ml.ModelFile} {
		if got := artifactRunID(t, cfg.Artifacts.Dir, name); got != latest.RunID {
			t.Fatalf("%s: expected run %s, got %s", name, latest.RunID, got)
		}
	}
}
