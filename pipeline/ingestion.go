package pipeline

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	RawDataFile = "data.csv"
	TrainFile   = "train.csv"
	TestFile    = "test.csv"
)

// IngestionError reports a source dataset that could not be loaded or split.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// SplitConfig 数据切分配置
type SplitConfig struct {
	ArtifactDir string
	Encoding    string
	TestRatio   float64
	Seed        int64
}

// Splitter loads the raw dataset, snapshots it and writes the train/test files.
type Splitter struct {
	config  SplitConfig
	quality *QualityChecker
	logger  *zap.Logger

	issues []QualityIssue
}

func NewSplitter(config SplitConfig, logger *zap.Logger) *Splitter {
	if config.TestRatio == 0 {
		config.TestRatio = 0.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{
		config:  config,
		quality: NewQualityChecker(),
		logger:  logger.Named("ingestion"),
	}
}

// Issues returns the data-quality findings of the last LoadAndSplit call.
func (s *Splitter) Issues() []QualityIssue {
	return s.issues
}

// LoadAndSplit reads source and writes data.csv, train.csv and test.csv into
// the artifact directory. The split is a seeded permutation, so equal inputs
// always produce equal files.
func (s *Splitter) LoadAndSplit(source string) (trainPath, testPath string, err error) {
	s.issues = nil

	table, err := ReadTable(source, s.config.Encoding)
	if err != nil {
		return "", "", &IngestionError{Source: source, Err: err}
	}
	if len(table.Rows) == 0 {
		return "", "", &IngestionError{Source: source, Err: errors.New("no data rows")}
	}

	report := s.quality.Check(table)
	s.issues = report.Issues
	if len(report.Issues) > 0 {
		s.logger.Warn("data quality issues found",
			zap.Int("rows", report.Rows),
			zap.Int("rows_with_issues", report.RowsWithIssues),
			zap.Any("by_rule", report.ByRule))
	}

	trainIdx, testIdx, err := SplitIndices(len(table.Rows), s.config.TestRatio, s.config.Seed)
	if err != nil {
		return "", "", &IngestionError{Source: source, Err: err}
	}

	dir := s.config.ArtifactDir
	rawPath := filepath.Join(dir, RawDataFile)
	trainPath = filepath.Join(dir, TrainFile)
	testPath = filepath.Join(dir, TestFile)

	if err := WriteTable(rawPath, table); err != nil {
		return "", "", fmt.Errorf("write raw snapshot: %w", err)
	}
	if err := WriteTable(trainPath, table.Select(trainIdx)); err != nil {
		return "", "", fmt.Errorf("write train set: %w", err)
	}
	if err := WriteTable(testPath, table.Select(testIdx)); err != nil {
		return "", "", fmt.Errorf("write test set: %w", err)
	}

	s.logger.Info("dataset split",
		zap.String("source", source),
		zap.Int("train_rows", len(trainIdx)),
		zap.Int("test_rows", len(testIdx)),
		zap.Int64("seed", s.config.Seed))
	return trainPath, testPath, nil
}

// SplitIndices permutes 0..n-1 with a seeded source; the first ceil(n*ratio)
// indices form the test set and the rest the train set.
func SplitIndices(n int, ratio float64, seed int64) (train, test []int, err error) {
	if ratio <= 0 || ratio >= 1 {
		return nil, nil, fmt.Errorf("test ratio %v outside (0, 1)", ratio)
	}
	if n < 2 {
		return nil, nil, fmt.Errorf("need at least 2 rows to split, got %d", n)
	}
	nTest := int(math.Ceil(float64(n) * ratio))
	if nTest >= n {
		return nil, nil, fmt.Errorf("test ratio %v leaves no training rows out of %d", ratio, n)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}
