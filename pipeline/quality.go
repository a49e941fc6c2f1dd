package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"examscore/ml"
)

// QualityIssue 质量问题
type QualityIssue struct {
	Row      int    `json:"row"` // 1-based data row, header excluded
	Column   string `json:"column,omitempty"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // low, medium, high
	Message  string `json:"message"`
}

// QualityRule inspects one record. Rules only report; rows are never altered.
type QualityRule interface {
	Name() string
	Check(columns map[string]int, row int, rec []string) []QualityIssue
}

// QualityReport 质量报告
type QualityReport struct {
	Rows           int            `json:"rows"`
	RowsWithIssues int            `json:"rows_with_issues"`
	ByRule         map[string]int `json:"by_rule"`
	Issues         []QualityIssue `json:"issues"`
}

// QualityChecker 数据质量检查器
type QualityChecker struct {
	rules []QualityRule
}

func NewQualityChecker() *QualityChecker {
	return &QualityChecker{
		rules: []QualityRule{
			NewMissingValueRule(),
			NewScoreRangeRule(),
		},
	}
}

func (qc *QualityChecker) AddRule(rule QualityRule) {
	qc.rules = append(qc.rules, rule)
}

// Check runs every rule over every record of t.
func (qc *QualityChecker) Check(t *Table) QualityReport {
	columns := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		columns[strings.TrimSpace(h)] = i
	}

	report := QualityReport{
		Rows:   len(t.Rows),
		ByRule: make(map[string]int),
		Issues: make([]QualityIssue, 0),
	}
	dup := newDuplicateRowRule()
	rules := append(append([]QualityRule{}, qc.rules...), dup)

	for r, rec := range t.Rows {
		var rowIssues []QualityIssue
		for _, rule := range rules {
			rowIssues = append(rowIssues, rule.Check(columns, r+1, rec)...)
		}
		if len(rowIssues) == 0 {
			continue
		}
		report.RowsWithIssues++
		for _, issue := range rowIssues {
			report.ByRule[issue.Rule]++
		}
		report.Issues = append(report.Issues, rowIssues...)
	}
	return report
}

// ============ rules ============

// MissingValueRule flags missing feature or target values.
type MissingValueRule struct {
	Columns []string
}

func NewMissingValueRule() *MissingValueRule {
	return &MissingValueRule{Columns: append(ml.FeatureNames(), ml.TargetColumn)}
}

func (r *MissingValueRule) Name() string {
	return "missing_value"
}

func (r *MissingValueRule) Check(columns map[string]int, row int, rec []string) []QualityIssue {
	var issues []QualityIssue
	for _, name := range r.Columns {
		idx, ok := columns[name]
		if !ok {
			continue
		}
		if idx >= len(rec) || ml.IsMissingToken(rec[idx]) {
			severity := "low"
			if name == ml.TargetColumn {
				severity = "high"
			}
			issues = append(issues, QualityIssue{
				Row:      row,
				Column:   name,
				Rule:     r.Name(),
				Severity: severity,
				Message:  "missing value",
			})
		}
	}
	return issues
}

// ScoreRangeRule 分数范围检查
type ScoreRangeRule struct {
	Columns []string
	Min     float64
	Max     float64
}

func NewScoreRangeRule() *ScoreRangeRule {
	return &ScoreRangeRule{
		Columns: []string{"reading_score", "writing_score", ml.TargetColumn},
		Min:     0,
		Max:     100,
	}
}

func (r *ScoreRangeRule) Name() string {
	return "score_range"
}

func (r *ScoreRangeRule) Check(columns map[string]int, row int, rec []string) []QualityIssue {
	var issues []QualityIssue
	for _, name := range r.Columns {
		idx, ok := columns[name]
		if !ok || idx >= len(rec) || ml.IsMissingToken(rec[idx]) {
			continue
		}
		raw := strings.TrimSpace(rec[idx])
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			issues = append(issues, QualityIssue{
				Row:      row,
				Column:   name,
				Rule:     r.Name(),
				Severity: "high",
				Message:  fmt.Sprintf("value %q is not numeric", raw),
			})
			continue
		}
		if v < r.Min || v > r.Max {
			issues = append(issues, QualityIssue{
				Row:      row,
				Column:   name,
				Rule:     r.Name(),
				Severity: "medium",
				Message:  fmt.Sprintf("value %v out of range [%v, %v]", v, r.Min, r.Max),
			})
		}
	}
	return issues
}

// duplicateRowRule 重复检测, one instance per Check call
type duplicateRowRule struct {
	seen map[string]int
}

func newDuplicateRowRule() *duplicateRowRule {
	return &duplicateRowRule{seen: make(map[string]int)}
}

func (r *duplicateRowRule) Name() string {
	return "duplicate_row"
}

func (r *duplicateRowRule) Check(_ map[string]int, row int, rec []string) []QualityIssue {
	key := strings.Join(rec, "\x1f")
	if first, exists := r.seen[key]; exists {
		return []QualityIssue{{
			Row:      row,
			Rule:     r.Name(),
			Severity: "low",
			Message:  fmt.Sprintf("duplicate of row %d", first),
		}}
	}
	r.seen[key] = row
	return nil
}
