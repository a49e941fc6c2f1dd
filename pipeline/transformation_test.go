package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"examscore/ml"
)

func splitDataset(t *testing.T, n int) (dir, trainPath, testPath string) {
	t.Helper()
	dir = t.TempDir()
	source := filepath.Join(dir, "source", "stud.csv")
	writeDataset(t, source, n)
	trainPath, testPath, err := NewSplitter(SplitConfig{ArtifactDir: dir, Seed: 42}, nil).LoadAndSplit(source)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return dir, trainPath, testPath
}

func TestTransformationRun(t *testing.T) {
	dir, trainPath, testPath := splitDataset(t, 50)

	train, test, preprocessorPath, err := NewTransformation(dir, ml.ArtifactMeta{RunID: "r1"}, nil).Run(trainPath, testPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(train) != 40 || len(test) != 10 {
		t.Fatalf("expected 40/10 rows, got %d/%d", len(train), len(test))
	}

	obj, meta, err := ml.LoadArtifact(preprocessorPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ml.Classify(obj) != ml.KindPreprocessor {
		t.Fatalf("expected preprocessor artifact, got %s", ml.Classify(obj))
	}
	if meta.RunID != "r1" || meta.Target != ml.TargetColumn {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	width := obj.(*ml.ColumnTransformer).OutputWidth()
	if len(train[0]) != width+1 || len(test[0]) != width+1 {
		t.Fatalf("expected %d columns plus target, got %d", width, len(train[0]))
	}

	trainTable, err := ReadTable(trainPath, "utf-8")
	if err != nil {
		t.Fatal(err)
	}
	target := trainTable.Column(ml.TargetColumn)
	for i, rec := range trainTable.Rows {
		want, _ := strconv.ParseFloat(rec[target], 64)
		if train[i][width] != want {
			t.Fatalf("row %d: expected target %v, got %v", i, want, train[i][width])
		}
	}
}

func TestTransformationFitsOnTrainOnly(t *testing.T) {
	dir, trainPath, testPath := splitDataset(t, 50)
	_, _, preprocessorPath, err := NewTransformation(dir, ml.ArtifactMeta{}, nil).Run(trainPath, testPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, _, err := ml.LoadArtifact(preprocessorPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fitted := obj.(*ml.ColumnTransformer)

	trainTable, err := ReadTable(trainPath, "utf-8")
	if err != nil {
		t.Fatal(err)
	}
	col := trainTable.Column("reading_score")
	values := make([]float64, len(trainTable.Rows))
	for i, rec := range trainTable.Rows {
		values[i], _ = strconv.ParseFloat(rec[col], 64)
	}
	sort.Float64s(values)
	n := len(values)
	median := (values[n/2-1] + values[n/2]) / 2

	var reading ml.NumericStats
	for _, s := range fitted.Numeric {
		if s.Column == "reading_score" {
			reading = s
		}
	}
	if reading.Median != median {
		t.Fatalf("expected train-only median %v, got %v", median, reading.Median)
	}
}

func TestTransformationSchemaErrors(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	writeDataset(t, good, 10)

	noTarget := filepath.Join(dir, "no_target.csv")
	noTargetContent := "gender,race_ethnicity,parental_level_of_education,lunch,test_preparation_course,reading_score,writing_score\n" +
		"female,group B,high school,standard,none,72,74\n"
	badTarget := filepath.Join(dir, "bad_target.csv")
	badTargetContent := datasetHeader + "\n" + "female,group B,high school,standard,none,seventy,72,74\n"
	noFeature := filepath.Join(dir, "no_feature.csv")
	noFeatureContent := "gender,race_ethnicity,parental_level_of_education,lunch,math_score,reading_score,writing_score\n" +
		"female,group B,high school,standard,70,72,74\n"
	for path, content := range map[string]string{noTarget: noTargetContent, badTarget: badTargetContent, noFeature: noFeatureContent} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		train  string
		test   string
		column string
	}{
		{name: "missing target in train", train: noTarget, test: good, column: ml.TargetColumn},
		{name: "invalid target in test", train: good, test: badTarget, column: ml.TargetColumn},
		{name: "missing feature", train: noFeature, test: good, column: "test_preparation_course"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := NewTransformation(t.TempDir(), ml.ArtifactMeta{}, nil).Run(tt.train, tt.test)
			var schemaErr *ml.SchemaError
			if !errors.As(err, &schemaErr) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if schemaErr.Column != tt.column {
				t.Fatalf("expected column %s, got %s", tt.column, schemaErr.Column)
			}
		})
	}
}
