package serving

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"examscore/ml"
)

// aliases maps a canonical feature name to accepted alternate keys.
var aliases = map[string][]string{
	"race_ethnicity": {"ethnicity"},
}

// Instance is one request element: a PositionalRow or a NamedRow.
type Instance interface {
	normalize(index int) (ml.FeatureRow, error)
}

// PositionalRow holds values in schema order.
type PositionalRow []any

// NamedRow holds values by feature name or alias.
type NamedRow map[string]any

// DecodeInstances decodes each raw element into a PositionalRow or NamedRow.
// Numbers keep their JSON text (json.Number).
func DecodeInstances(raw []json.RawMessage) ([]Instance, error) {
	out := make([]Instance, 0, len(raw))
	for i, msg := range raw {
		trimmed := bytes.TrimSpace(msg)
		if len(trimmed) == 0 {
			return nil, &RequestShapeError{Index: i, Reason: "empty instance"}
		}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		switch trimmed[0] {
		case '[':
			var row PositionalRow
			if err := dec.Decode(&row); err != nil {
				return nil, &RequestShapeError{Index: i, Reason: err.Error()}
			}
			out = append(out, row)
		case '{':
			var row NamedRow
			if err := dec.Decode(&row); err != nil {
				return nil, &RequestShapeError{Index: i, Reason: err.Error()}
			}
			out = append(out, row)
		default:
			return nil, &RequestShapeError{Index: i, Reason: "expected an array of 7 values or an object of named features"}
		}
	}
	return out, nil
}

// Normalize maps every instance onto the feature schema, preserving order.
func Normalize(instances []Instance) ([]ml.FeatureRow, error) {
	if len(instances) == 0 {
		return nil, ErrEmptyBatch
	}
	rows := make([]ml.FeatureRow, len(instances))
	for i, inst := range instances {
		if inst == nil {
			return nil, &RequestShapeError{Index: i, Reason: "null instance"}
		}
		row, err := inst.normalize(i)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

func (p PositionalRow) normalize(index int) (ml.FeatureRow, error) {
	var row ml.FeatureRow
	if len(p) != ml.FeatureCount {
		return row, &RequestShapeError{
			Index:  index,
			Reason: fmt.Sprintf("expected %d values, got %d", ml.FeatureCount, len(p)),
		}
	}
	for i, f := range ml.Schema {
		cell, err := coerce(f, p[i])
		if err != nil {
			return row, &RequestShapeError{Index: index, Reason: err.Error()}
		}
		row[i] = cell
	}
	return row, nil
}

func (n NamedRow) normalize(index int) (ml.FeatureRow, error) {
	var row ml.FeatureRow
	for i, f := range ml.Schema {
		v, ok := n.lookup(f.Name)
		if !ok {
			row[i] = ml.Missing()
			continue
		}
		cell, err := coerce(f, v)
		if err != nil {
			return row, &RequestShapeError{Index: index, Reason: err.Error()}
		}
		row[i] = cell
	}
	return row, nil
}

func (n NamedRow) lookup(name string) (any, bool) {
	if v, ok := n[name]; ok {
		return v, true
	}
	for _, alias := range aliases[name] {
		if v, ok := n[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

// coerce converts a decoded JSON value into a cell. Values a numeric column
// cannot use become missing so imputation fills them.
func coerce(f ml.Feature, v any) (ml.Cell, error) {
	switch v.(type) {
	case nil:
		return ml.Missing(), nil
	case []any, map[string]any:
		return ml.Cell{}, fmt.Errorf("%s: nested value", f.Name)
	}

	if f.Kind == ml.Numeric {
		num, ok := toFloat(v)
		if !ok {
			return ml.Missing(), nil
		}
		return ml.Number(num), nil
	}

	switch val := v.(type) {
	case string:
		return ml.ParseCell(ml.Categorical, val), nil
	case json.Number:
		return ml.Text(val.String()), nil
	case float64:
		return ml.Text(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case bool:
		return ml.Text(strconv.FormatBool(val)), nil
	default:
		return ml.Text(fmt.Sprint(val)), nil
	}
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = val
	case int:
		f = float64(val)
	case string:
		if ml.IsMissingToken(val) {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NormalizeForm builds a single row from a form submission. Unlike JSON
// instances, a numeric field that is empty or not a number is rejected.
func NormalizeForm(values url.Values) ([]ml.FeatureRow, error) {
	var row ml.FeatureRow
	for i, f := range ml.Schema {
		raw := strings.TrimSpace(formValue(values, f.Name))
		if f.Kind == ml.Numeric {
			num, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(num) || math.IsInf(num, 0) {
				return nil, &NumericCoercionError{Field: f.Name, Value: raw}
			}
			row[i] = ml.Number(num)
			continue
		}
		row[i] = ml.ParseCell(ml.Categorical, raw)
	}
	return []ml.FeatureRow{row}, nil
}

func formValue(values url.Values, name string) string {
	if _, ok := values[name]; ok {
		return values.Get(name)
	}
	for _, alias := range aliases[name] {
		if _, ok := values[alias]; ok {
			return values.Get(alias)
		}
	}
	return ""
}
