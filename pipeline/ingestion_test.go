package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func TestSplitIndices(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		ratio     float64
		wantTest  int
		wantError bool
	}{
		{name: "thousand rows", n: 1000, ratio: 0.2, wantTest: 200},
		{name: "rounds up", n: 11, ratio: 0.2, wantTest: 3},
		{name: "two rows", n: 2, ratio: 0.2, wantTest: 1},
		{name: "one row", n: 1, ratio: 0.2, wantError: true},
		{name: "ratio too large", n: 10, ratio: 1, wantError: true},
		{name: "no train rows", n: 3, ratio: 0.9, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train, test, err := SplitIndices(tt.n, tt.ratio, 42)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(test) != tt.wantTest || len(train)+len(test) != tt.n {
				t.Fatalf("unexpected sizes train=%d test=%d", len(train), len(test))
			}
			all := append(append([]int{}, train...), test...)
			sort.Ints(all)
			for i, idx := range all {
				if idx != i {
					t.Fatalf("split is not a partition of 0..%d", tt.n-1)
				}
			}
		})
	}
}

func TestSplitIndicesDeterministic(t *testing.T) {
	train1, test1, _ := SplitIndices(50, 0.2, 42)
	train2, test2, _ := SplitIndices(50, 0.2, 42)
	for i := range train1 {
		if train1[i] != train2[i] {
			t.Fatal("train split differs between runs")
		}
	}
	for i := range test1 {
		if test1[i] != test2[i] {
			t.Fatal("test split differs between runs")
		}
	}
}

func TestLoadAndSplit(t *testing.T) {
	source := filepath.Join(t.TempDir(), "stud.csv")
	writeDataset(t, source, 40)

	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	var outputs [2][2]string
	for i, dir := range []string{dirA, dirB} {
		s := NewSplitter(SplitConfig{ArtifactDir: dir, TestRatio: 0.2, Seed: 42}, nil)
		trainPath, testPath, err := s.LoadAndSplit(source)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, RawDataFile)); err != nil {
			t.Fatalf("expected raw snapshot: %v", err)
		}
		outputs[i] = [2]string{readFile(t, trainPath), readFile(t, testPath)}
	}
	if outputs[0] != outputs[1] {
		t.Fatal("same source and seed produced different splits")
	}

	trainLines := strings.Split(strings.TrimSpace(outputs[0][0]), "\n")
	testLines := strings.Split(strings.TrimSpace(outputs[0][1]), "\n")
	if len(trainLines)-1 != 32 || len(testLines)-1 != 8 {
		t.Fatalf("expected 32/8 rows, got %d/%d", len(trainLines)-1, len(testLines)-1)
	}
	if trainLines[0] != datasetHeader || testLines[0] != datasetHeader {
		t.Fatal("split files must keep the source header")
	}
}

func TestLoadAndSplitErrors(t *testing.T) {
	dir := t.TempDir()
	headerOnly := filepath.Join(dir, "header.csv")
	if err := os.WriteFile(headerOnly, []byte(datasetHeader+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	single := filepath.Join(dir, "single.csv")
	writeDataset(t, single, 1)

	tests := []struct {
		name   string
		source string
	}{
		{name: "missing", source: filepath.Join(dir, "nope.csv")},
		{name: "header only", source: headerOnly},
		{name: "single row", source: single},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSplitter(SplitConfig{ArtifactDir: filepath.Join(dir, "out"), Seed: 42}, nil)
			_, _, err := s.LoadAndSplit(tt.source)
			var ingestErr *IngestionError
			if !errors.As(err, &ingestErr) {
				t.Fatalf("expected IngestionError, got %v", err)
			}
			if ingestErr.Source != tt.source {
				t.Fatalf("expected source %q, got %q", tt.source, ingestErr.Source)
			}
		})
	}
}

func TestLoadAndSplitReportsQuality(t *testing.T) {
	source := filepath.Join(t.TempDir(), "stud.csv")
	content := datasetHeader + "\n" +
		"female,group B,high school,standard,none,72,NA,74\n" +
		"male,group C,high school,standard,none,150,60,58\n" +
		"female,group A,some college,standard,none,70,72,71\n" +
		"male,group D,some college,standard,none,66,65,64\n"
	if err := os.WriteFile(source, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSplitter(SplitConfig{ArtifactDir: t.TempDir(), Seed: 42}, nil)
	if _, _, err := s.LoadAndSplit(source); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	issues := s.Issues()
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", issues)
	}
	if issues[0].Rule != "missing_value" || issues[1].Rule != "score_range" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}
