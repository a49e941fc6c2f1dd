package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const datasetHeader = "gender,race_ethnicity,parental_level_of_education,lunch,test_preparation_course,math_score,reading_score,writing_score"

var (
	genders    = []string{"female", "male"}
	groups     = []string{"group A", "group B", "group C", "group D", "group E"}
	educations = []string{"some college", "high school", "bachelor's degree", "master's degree", "associate's degree", "some high school"}
	lunches    = []string{"standard", "free/reduced"}
	preps      = []string{"none", "completed"}
)

// writeDataset writes n synthetic student records whose math score is a
// near-linear function of the other columns.
func writeDataset(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	b.WriteString(datasetHeader + "\n")
	for i := 0; i < n; i++ {
		gender := genders[i%len(genders)]
		lunch := lunches[(i/3)%len(lunches)]
		reading := 40 + (i*7)%60
		writing := reading - 5 + (i*3)%10
		math := 0.5*float64(reading) + 0.4*float64(writing) + float64((i*13)%5-2)
		if gender == "male" {
			math += 5
		}
		if lunch == "standard" {
			math += 6
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s,%.0f,%d,%d\n",
			gender, groups[i%len(groups)], quote(educations[i%len(educations)]),
			lunch, preps[(i/2)%len(preps)], math, reading, writing)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func quote(s string) string {
	if strings.ContainsAny(s, ",'") {
		return `"` + s + `"`
	}
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return string(data)
}
