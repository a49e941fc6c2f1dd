package ml

import (
	"errors"
	"testing"
)

func TestRowsFromTable(t *testing.T) {
	header := []string{"math_score", "writing_score", "reading_score", "test_preparation_course", "lunch", "parental_level_of_education", "race_ethnicity", "gender"}
	records := [][]string{
		{"71", "66", "53", "completed", "free/reduced", "some college", "group B", "female"},
		{"40", "NA", "", "none", "standard", "high school", "", "male"},
	}

	rows, err := RowsFromTable(header, records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := FeatureRow{Text("female"), Text("group B"), Text("some college"), Text("free/reduced"), Text("completed"), Number(53), Number(66)}
	if rows[0] != want {
		t.Fatalf("expected %v, got %v", want, rows[0])
	}
	if !rows[1][1].IsMissing() || !rows[1][5].IsMissing() || !rows[1][6].IsMissing() {
		t.Fatalf("expected missing cells, got %v", rows[1])
	}
	if rows[1][4] != Text("none") {
		t.Fatalf("expected test_preparation_course none to be kept, got %v", rows[1][4])
	}
}

func TestRowsFromTableMissingColumn(t *testing.T) {
	header := []string{"gender", "race_ethnicity", "lunch"}
	_, err := RowsFromTable(header, [][]string{{"female", "group B", "standard"}})
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	if schemaErr.Column != "parental_level_of_education" {
		t.Fatalf("unexpected column: %s", schemaErr.Column)
	}
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		kind ColumnKind
		raw  string
		want Cell
	}{
		{Numeric, " 53 ", Number(53)},
		{Numeric, "abc", Missing()},
		{Numeric, "NaN", Missing()},
		{Categorical, " group B ", Text("group B")},
		{Categorical, "null", Missing()},
		{Categorical, "none", Text("none")},
		{Categorical, "None", Text("None")},
	}
	for _, tt := range tests {
		if got := ParseCell(tt.kind, tt.raw); got != tt.want {
			t.Errorf("ParseCell(%s, %q) = %v, want %v", tt.kind, tt.raw, got, tt.want)
		}
	}
}
