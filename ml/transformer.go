package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

type NumericStats struct {
	Column string  `json:"column"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

type CategoricalStats struct {
	Column       string   `json:"column"`
	MostFrequent string   `json:"most_frequent"`
	Categories   []string `json:"categories"`
}

// ColumnTransformer imputes, scales and one-hot encodes feature rows.
//
// Numeric columns are filled with the training median and standardized with
// the training mean and standard deviation. Categorical columns are filled
// with the most frequent training value and expanded into one indicator per
// category seen during Fit. A category unseen during Fit encodes as an all-zero
// block. Output columns are the numeric block followed by the categorical
// block, each in Schema order.
type ColumnTransformer struct {
	Numeric     []NumericStats     `json:"numeric"`
	Categorical []CategoricalStats `json:"categorical"`
	Fitted      bool               `json:"fitted"`
}

func NewColumnTransformer() *ColumnTransformer {
	return &ColumnTransformer{}
}

func (t *ColumnTransformer) Fit(rows []FeatureRow) error {
	if t.Fitted {
		return ErrAlreadyFitted
	}
	if len(rows) == 0 {
		return errors.New("fit transformer: no rows")
	}

	numeric := make([]NumericStats, 0, len(NumericColumns()))
	for _, col := range NumericColumns() {
		stats, err := fitNumeric(rows, col)
		if err != nil {
			return err
		}
		numeric = append(numeric, stats)
	}

	categorical := make([]CategoricalStats, 0, len(CategoricalColumns()))
	for _, col := range CategoricalColumns() {
		stats, err := fitCategorical(rows, col)
		if err != nil {
			return err
		}
		categorical = append(categorical, stats)
	}

	t.Numeric = numeric
	t.Categorical = categorical
	t.Fitted = true
	return nil
}

func fitNumeric(rows []FeatureRow, col int) (NumericStats, error) {
	name := Schema[col].Name
	observed := make([]float64, 0, len(rows))
	for _, row := range rows {
		if c := row[col]; c.Valid && !math.IsNaN(c.Num) && !math.IsInf(c.Num, 0) {
			observed = append(observed, c.Num)
		}
	}
	if len(observed) == 0 {
		return NumericStats{}, fmt.Errorf("fit transformer: column %s has no numeric values", name)
	}
	med := median(observed)

	values := make([]float64, len(rows))
	for i, row := range rows {
		values[i] = numericOrDefault(row[col], med)
	}
	mean, std := meanStd(values)
	if std == 0 {
		std = 1
	}
	return NumericStats{Column: name, Median: med, Mean: mean, Scale: std}, nil
}

func fitCategorical(rows []FeatureRow, col int) (CategoricalStats, error) {
	name := Schema[col].Name
	counts := make(map[string]int)
	for _, row := range rows {
		if c := row[col]; c.Valid {
			counts[c.Text]++
		}
	}
	if len(counts) == 0 {
		return CategoricalStats{}, fmt.Errorf("fit transformer: column %s has no values", name)
	}

	categories := make([]string, 0, len(counts))
	for v := range counts {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	// ties resolve to the smallest category because categories is sorted
	mostFrequent := categories[0]
	for _, v := range categories[1:] {
		if counts[v] > counts[mostFrequent] {
			mostFrequent = v
		}
	}
	return CategoricalStats{Column: name, MostFrequent: mostFrequent, Categories: categories}, nil
}

// Transform encodes rows with the statistics learned by Fit. It does not
// modify the receiver or its input and is safe for concurrent use.
func (t *ColumnTransformer) Transform(rows []FeatureRow) ([][]float64, error) {
	if !t.Fitted {
		return nil, ErrNotFitted
	}
	numCols, catCols, err := t.columns()
	if err != nil {
		return nil, err
	}

	width := t.OutputWidth()
	out := make([][]float64, len(rows))
	for i, row := range rows {
		vec := make([]float64, width)
		j := 0
		for k, stats := range t.Numeric {
			v := numericOrDefault(row[numCols[k]], stats.Median)
			vec[j] = (v - stats.Mean) / stats.Scale
			j++
		}
		for k, stats := range t.Categorical {
			c := row[catCols[k]]
			value := stats.MostFrequent
			if c.Valid {
				value = c.Text
			}
			if pos := sort.SearchStrings(stats.Categories, value); pos < len(stats.Categories) && stats.Categories[pos] == value {
				vec[j+pos] = 1
			}
			j += len(stats.Categories)
		}
		out[i] = vec
	}
	return out, nil
}

func (t *ColumnTransformer) FitTransform(rows []FeatureRow) ([][]float64, error) {
	if err := t.Fit(rows); err != nil {
		return nil, err
	}
	return t.Transform(rows)
}

func (t *ColumnTransformer) OutputWidth() int {
	width := len(t.Numeric)
	for _, stats := range t.Categorical {
		width += len(stats.Categories)
	}
	return width
}

func (t *ColumnTransformer) OutputNames() []string {
	names := make([]string, 0, t.OutputWidth())
	for _, stats := range t.Numeric {
		names = append(names, stats.Column)
	}
	for _, stats := range t.Categorical {
		for _, v := range stats.Categories {
			names = append(names, stats.Column+"="+v)
		}
	}
	return names
}

// Validate checks state decoded from an artifact before it is used.
func (t *ColumnTransformer) Validate() error {
	if !t.Fitted {
		return ErrNotFitted
	}
	if _, _, err := t.columns(); err != nil {
		return err
	}
	for _, stats := range t.Numeric {
		if !isFinite(stats.Median) || !isFinite(stats.Mean) || !isFinite(stats.Scale) || stats.Scale <= 0 {
			return fmt.Errorf("column %s: invalid scaling statistics", stats.Column)
		}
	}
	for _, stats := range t.Categorical {
		if len(stats.Categories) == 0 {
			return fmt.Errorf("column %s: empty vocabulary", stats.Column)
		}
		if !sort.StringsAreSorted(stats.Categories) {
			return fmt.Errorf("column %s: vocabulary is not sorted", stats.Column)
		}
	}
	return nil
}

func (t *ColumnTransformer) columns() (numCols, catCols []int, err error) {
	if len(t.Numeric) != len(NumericColumns()) || len(t.Categorical) != len(CategoricalColumns()) {
		return nil, nil, &SchemaError{Reason: "transformer column groups do not match the feature schema"}
	}
	numCols = make([]int, len(t.Numeric))
	for i, stats := range t.Numeric {
		idx := ColumnIndex(stats.Column)
		if idx < 0 || Schema[idx].Kind != Numeric {
			return nil, nil, &SchemaError{Column: stats.Column, Reason: "not a numeric feature"}
		}
		numCols[i] = idx
	}
	catCols = make([]int, len(t.Categorical))
	for i, stats := range t.Categorical {
		idx := ColumnIndex(stats.Column)
		if idx < 0 || Schema[idx].Kind != Categorical {
			return nil, nil, &SchemaError{Column: stats.Column, Reason: "not a categorical feature"}
		}
		catCols[i] = idx
	}
	return numCols, catCols, nil
}

func numericOrDefault(c Cell, fallback float64) float64 {
	if !c.Valid || !isFinite(c.Num) {
		return fallback
	}
	return c.Num
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)))
}
