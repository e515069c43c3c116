package steps

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/terra-clan/quiz-solver/internal/models"
)

var numberPattern = regexp.MustCompile(`-?\d+(?:,\d{3})*(?:\.\d+)?`)

// Filter keeps table rows whose column compares true against Value
type Filter struct {
	Column string `mapstructure:"column"`
	Op     string `mapstructure:"op"`
	Value  string `mapstructure:"value"`
}

type processParams struct {
	Input     string   `mapstructure:"input"`
	Format    string   `mapstructure:"format"`
	Operation string   `mapstructure:"operation"`
	Columns   []string `mapstructure:"columns"`
	Filter    *Filter  `mapstructure:"filter"`
	Code      string   `mapstructure:"code"`
}

// processHandler turns raw payloads into tables or JSON and reshapes tables
type processHandler struct {
	code CodeRunner
}

func (h *processHandler) Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	var p processParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}

	v, err := inputValue(step, results)
	if err != nil {
		return nil, err
	}

	if p.Code != "" {
		return runCode(ctx, h.code, p.Code, v)
	}

	value, err := parsePayload(v, p.Format)
	if err != nil {
		return nil, err
	}

	table, ok := value.(*models.Table)
	if !ok {
		if p.Operation != "" {
			return nil, models.Permanent(fmt.Errorf("%w: %s on %T", ErrUnsupportedOp, p.Operation, value))
		}
		return value, nil
	}

	if p.Filter != nil {
		if table, err = filterTable(table, *p.Filter); err != nil {
			return nil, err
		}
	}

	switch strings.ToLower(p.Operation) {
	case "", "parse", "clean":
		return table, nil
	case "select":
		return selectColumns(table, p.Columns)
	case "dedupe", "unique":
		return dedupeRows(table), nil
	default:
		return nil, models.Permanent(fmt.Errorf("%w: process %q", ErrUnsupportedOp, p.Operation))
	}
}

type analyzeParams struct {
	Input      string  `mapstructure:"input"`
	Operation  string  `mapstructure:"operation"`
	Column     string  `mapstructure:"column"`
	Filter     *Filter `mapstructure:"filter"`
	Descending bool    `mapstructure:"descending"`
	Code       string  `mapstructure:"code"`
}

// analyzeHandler computes aggregates over numeric data
type analyzeHandler struct {
	code CodeRunner
}

func (h *analyzeHandler) Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	var p analyzeParams
	if err := decodeParams(step, &p); err != nil {
		return nil, err
	}

	v, err := inputValue(step, results)
	if err != nil {
		return nil, err
	}

	if p.Code != "" {
		return runCode(ctx, h.code, p.Code, v)
	}

	value, err := parsePayload(v, "")
	if err != nil {
		return nil, err
	}

	if t, ok := value.(*models.Table); ok && p.Filter != nil {
		if value, err = filterTable(t, *p.Filter); err != nil {
			return nil, err
		}
	}

	op := strings.ToLower(p.Operation)
	if op == "count" {
		switch val := value.(type) {
		case *models.Table:
			return float64(len(val.Rows)), nil
		case []any:
			return float64(len(val)), nil
		}
	}

	nums, err := numbers(value, p.Column)
	if err != nil {
		return nil, err
	}

	return aggregate(op, nums, p.Descending)
}

func aggregate(op string, nums []float64, desc bool) (any, error) {
	if len(nums) == 0 {
		return nil, models.Permanent(ErrNoNumericInput)
	}

	switch op {
	case "sum", "total", "":
		return sum(nums), nil
	case "mean", "average", "avg":
		return sum(nums) / float64(len(nums)), nil
	case "count":
		return float64(len(nums)), nil
	case "min":
		m := nums[0]
		for _, n := range nums[1:] {
			m = math.Min(m, n)
		}
		return m, nil
	case "max":
		m := nums[0]
		for _, n := range nums[1:] {
			m = math.Max(m, n)
		}
		return m, nil
	case "median":
		s := sorted(nums, false)
		mid := len(s) / 2
		if len(s)%2 == 0 {
			return (s[mid-1] + s[mid]) / 2, nil
		}
		return s[mid], nil
	case "sort":
		return sorted(nums, desc), nil
	case "describe":
		mean := sum(nums) / float64(len(nums))
		var ss float64
		for _, n := range nums {
			ss += (n - mean) * (n - mean)
		}
		s := sorted(nums, false)
		return map[string]any{
			"count": float64(len(nums)),
			"sum":   sum(nums),
			"mean":  mean,
			"std":   math.Sqrt(ss / float64(len(nums))),
			"min":   s[0],
			"max":   s[len(s)-1],
		}, nil
	default:
		return nil, models.Permanent(fmt.Errorf("%w: analyze %q", ErrUnsupportedOp, op))
	}
}

// parsePayload decodes text payloads into a table, JSON value or cleaned text
func parsePayload(v any, format string) (any, error) {
	switch val := v.(type) {
	case *models.Table, float64, []float64, map[string]any:
		return val, nil
	case []any:
		if t := tableFromRecords(val); t != nil {
			return t, nil
		}
		return val, nil
	}

	raw := bytes.TrimSpace(asBytes(v))
	if len(raw) == 0 {
		return nil, models.Permanent(fmt.Errorf("%w: input is empty", ErrMissingInput))
	}

	switch strings.ToLower(format) {
	case "csv":
		return parseCSV(raw, ',')
	case "tsv":
		return parseCSV(raw, '\t')
	case "json":
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, models.Permanent(fmt.Errorf("invalid json input: %w", err))
		}
		return parsePayload(decoded, "")
	case "text":
		return cleanText(string(raw)), nil
	}

	if raw[0] == '{' || raw[0] == '[' {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return parsePayload(decoded, "")
		}
	}
	if firstLine := string(raw[:lineEnd(raw)]); strings.Contains(firstLine, ",") && bytes.Contains(raw, []byte("\n")) {
		if t, err := parseCSV(raw, ','); err == nil {
			return t, nil
		}
	}
	return cleanText(string(raw)), nil
}

func parseCSV(raw []byte, sep rune) (*models.Table, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("invalid csv input: %w", err))
	}
	if len(records) == 0 {
		return nil, models.Permanent(fmt.Errorf("%w: csv has no rows", ErrMissingInput))
	}

	t := &models.Table{Columns: records[0]}
	// Headerless numeric CSVs keep their first row as data
	if allNumeric(records[0]) {
		t.Columns = make([]string, len(records[0]))
		for i := range t.Columns {
			t.Columns[i] = fmt.Sprintf("col%d", i)
		}
		t.Rows = records
		return t, nil
	}
	t.Rows = records[1:]
	return t, nil
}

func tableFromRecords(items []any) *models.Table {
	if len(items) == 0 {
		return nil
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return nil
	}

	cols := make([]string, 0, len(first))
	for k := range first {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	t := &models.Table{Columns: cols}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil
		}
		row := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := obj[c]; ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// numbers extracts numeric values from a table column, a list or free text
func numbers(v any, column string) ([]float64, error) {
	switch val := v.(type) {
	case float64:
		return []float64{val}, nil
	case []float64:
		return val, nil
	case []any:
		var out []float64
		for _, item := range val {
			if f, ok := toFloat(fmt.Sprint(item)); ok {
				out = append(out, f)
			}
		}
		return out, nil
	case *models.Table:
		idx := -1
		if column != "" {
			if idx = val.Column(column); idx < 0 {
				return nil, models.Permanent(fmt.Errorf("%w: column %q not in %v", ErrBadParameters, column, val.Columns))
			}
		} else {
			idx = firstNumericColumn(val)
		}
		if idx < 0 {
			return nil, models.Permanent(ErrNoNumericInput)
		}
		var out []float64
		for _, row := range val.Rows {
			if idx < len(row) {
				if f, ok := toFloat(row[idx]); ok {
					out = append(out, f)
				}
			}
		}
		return out, nil
	case string:
		var out []float64
		for _, m := range numberPattern.FindAllString(val, -1) {
			if f, ok := toFloat(m); ok {
				out = append(out, f)
			}
		}
		return out, nil
	default:
		return nil, models.Permanent(fmt.Errorf("%w: cannot analyze %T", ErrUnsupportedOp, v))
	}
}

func filterTable(t *models.Table, f Filter) (*models.Table, error) {
	idx := t.Column(f.Column)
	if idx < 0 {
		return nil, models.Permanent(fmt.Errorf("%w: filter column %q not in %v", ErrBadParameters, f.Column, t.Columns))
	}

	out := &models.Table{Columns: t.Columns}
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		keep, err := compare(row[idx], f.Op, f.Value)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func compare(cell, op, value string) (bool, error) {
	a, aok := toFloat(cell)
	b, bok := toFloat(value)
	numeric := aok && bok

	switch op {
	case "==", "=", "eq", "":
		if numeric {
			return a == b, nil
		}
		return strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(value)), nil
	case "!=", "ne":
		if numeric {
			return a != b, nil
		}
		return !strings.EqualFold(strings.TrimSpace(cell), strings.TrimSpace(value)), nil
	case ">", "gt":
		return numeric && a > b, nil
	case ">=", "gte":
		return numeric && a >= b, nil
	case "<", "lt":
		return numeric && a < b, nil
	case "<=", "lte":
		return numeric && a <= b, nil
	case "contains":
		return strings.Contains(strings.ToLower(cell), strings.ToLower(value)), nil
	default:
		return false, models.Permanent(fmt.Errorf("%w: filter op %q", ErrUnsupportedOp, op))
	}
}

func selectColumns(t *models.Table, cols []string) (*models.Table, error) {
	idx := make([]int, 0, len(cols))
	for _, c := range cols {
		i := t.Column(c)
		if i < 0 {
			return nil, models.Permanent(fmt.Errorf("%w: column %q not in %v", ErrBadParameters, c, t.Columns))
		}
		idx = append(idx, i)
	}

	out := &models.Table{Columns: make([]string, len(idx))}
	for j, i := range idx {
		out.Columns[j] = t.Columns[i]
	}
	for _, row := range t.Rows {
		r := make([]string, len(idx))
		for j, i := range idx {
			if i < len(row) {
				r[j] = row[i]
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out, nil
}

func dedupeRows(t *models.Table) *models.Table {
	seen := make(map[string]bool)
	out := &models.Table{Columns: t.Columns}
	for _, row := range t.Rows {
		key := strings.Join(row, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Rows = append(out.Rows, row)
	}
	return out
}

func firstNumericColumn(t *models.Table) int {
	for i := range t.Columns {
		for _, row := range t.Rows {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				if _, ok := toFloat(row[i]); ok {
					return i
				}
				break
			}
		}
	}
	return -1
}

func allNumeric(fields []string) bool {
	for _, f := range fields {
		if _, ok := toFloat(f); !ok {
			return false
		}
	}
	return len(fields) > 0
}

func toFloat(s string) (float64, bool) {
	cleaned := strings.NewReplacer(",", "", "$", "", "%", "").Replace(strings.TrimSpace(s))
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func sum(nums []float64) float64 {
	var s float64
	for _, n := range nums {
		s += n
	}
	return s
}

func sorted(nums []float64, desc bool) []float64 {
	s := append([]float64(nil), nums...)
	if desc {
		sort.Sort(sort.Reverse(sort.Float64Slice(s)))
	} else {
		sort.Float64s(s)
	}
	return s
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func lineEnd(b []byte) int {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return i
	}
	return len(b)
}
