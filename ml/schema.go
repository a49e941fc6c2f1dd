package ml

import (
	"fmt"
	"strconv"
	"strings"
)

type ColumnKind int

const (
	Categorical ColumnKind = iota
	Numeric
)

func (k ColumnKind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

type Feature struct {
	Name string
	Kind ColumnKind
}

const (
	FeatureCount = 7
	TargetColumn = "math_score"
)

// Schema is the column order the transformer is fit with. Rows built in any
// other order silently corrupt predictions.
var Schema = [FeatureCount]Feature{
	{Name: "gender", Kind: Categorical},
	{Name: "race_ethnicity", Kind: Categorical},
	{Name: "parental_level_of_education", Kind: Categorical},
	{Name: "lunch", Kind: Categorical},
	{Name: "test_preparation_course", Kind: Categorical},
	{Name: "reading_score", Kind: Numeric},
	{Name: "writing_score", Kind: Numeric},
}

// Cell is one feature value. Categorical columns use Text, numeric columns Num.
type Cell struct {
	Text  string
	Num   float64
	Valid bool
}

func Text(s string) Cell { return Cell{Text: s, Valid: true} }

func Number(v float64) Cell { return Cell{Num: v, Valid: true} }

func Missing() Cell { return Cell{} }

func (c Cell) IsMissing() bool { return !c.Valid }

func (c Cell) String() string {
	switch {
	case !c.Valid:
		return "<missing>"
	case c.Text != "":
		return c.Text
	default:
		return strconv.FormatFloat(c.Num, 'g', -1, 64)
	}
}

// FeatureRow is one observation aligned to Schema.
type FeatureRow [FeatureCount]Cell

func FeatureNames() []string {
	names := make([]string, FeatureCount)
	for i, f := range Schema {
		names[i] = f.Name
	}
	return names
}

func ColumnIndex(name string) int {
	for i, f := range Schema {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func NumericColumns() []int { return columnsOfKind(Numeric) }

func CategoricalColumns() []int { return columnsOfKind(Categorical) }

func columnsOfKind(kind ColumnKind) []int {
	var idx []int
	for i, f := range Schema {
		if f.Kind == kind {
			idx = append(idx, i)
		}
	}
	return idx
}

// IsMissingToken reports whether a raw table value stands for a missing cell.
func IsMissingToken(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "na", "nan", "null":
		return true
	}
	return false
}

// ParseCell converts a raw table value into a cell of the given kind. Numeric
// values that do not parse become missing so imputation can fill them.
func ParseCell(kind ColumnKind, raw string) Cell {
	if IsMissingToken(raw) {
		return Missing()
	}
	if kind == Categorical {
		return Text(strings.TrimSpace(raw))
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Missing()
	}
	return Number(v)
}

// RowsFromTable maps named columns of a string table into feature rows. The
// header may list columns in any order and may carry extra columns.
func RowsFromTable(header []string, records [][]string) ([]FeatureRow, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		pos[strings.TrimSpace(name)] = i
	}
	var source [FeatureCount]int
	for i, f := range Schema {
		p, ok := pos[f.Name]
		if !ok {
			return nil, &SchemaError{Column: f.Name, Reason: "feature column missing"}
		}
		source[i] = p
	}

	rows := make([]FeatureRow, len(records))
	for r, rec := range records {
		for i, f := range Schema {
			if source[i] >= len(rec) {
				return nil, &SchemaError{Column: f.Name, Reason: fmt.Sprintf("row %d is short", r+1)}
			}
			rows[r][i] = ParseCell(f.Kind, rec[source[i]])
		}
	}
	return rows, nil
}
