package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrDuplicateResult is returned when a result key is written twice
var ErrDuplicateResult = errors.New("result key already recorded")

// Table is a parsed tabular value
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Column returns the index of the named column, case-insensitive
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}

// Media is a binary payload produced or downloaded by a step
type Media struct {
	MIME string `json:"mime"`
	Data []byte `json:"-"`
}

// Result is one entry of the results registry. Failed entries carry the
// error marker instead of a value.
type Result struct {
	Key    string   `json:"key"`
	Kind   StepKind `json:"kind"`
	Value  any      `json:"value,omitempty"`
	Failed bool     `json:"failed,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ResultsRegistry maps result keys to values produced during one plan run.
// It is append-only and owned by a single orchestration unit.
type ResultsRegistry struct {
	order   []string
	entries map[string]Result
}

// NewResultsRegistry creates an empty registry
func NewResultsRegistry() *ResultsRegistry {
	return &ResultsRegistry{
		entries: make(map[string]Result),
	}
}

// Put appends a result
func (r *ResultsRegistry) Put(res Result) error {
	if _, exists := r.entries[res.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, res.Key)
	}
	r.order = append(r.order, res.Key)
	r.entries[res.Key] = res
	return nil
}

// Get returns the entry for key
func (r *ResultsRegistry) Get(key string) (Result, bool) {
	res, ok := r.entries[key]
	return res, ok
}

// Value returns the value for key if the step succeeded
func (r *ResultsRegistry) Value(key string) (any, bool) {
	res, ok := r.entries[key]
	if !ok || res.Failed {
		return nil, false
	}
	return res.Value, true
}

// Len returns the number of recorded entries
func (r *ResultsRegistry) Len() int {
	return len(r.order)
}

// Keys returns result keys in insertion order
func (r *ResultsRegistry) Keys() []string {
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Entries returns all results in insertion order
func (r *ResultsRegistry) Entries() []Result {
	out := make([]Result, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Summary renders each entry as a short string for prompts
func (r *ResultsRegistry) Summary(limit int) map[string]string {
	out := make(map[string]string, len(r.order))
	for _, k := range r.order {
		out[k] = summarize(r.entries[k], limit)
	}
	return out
}

func summarize(res Result, limit int) string {
	if res.Failed {
		return "ERROR: " + res.Error
	}

	var s string
	switch v := res.Value.(type) {
	case *Table:
		s = fmt.Sprintf("table with %d rows, columns %v", len(v.Rows), v.Columns)
		if len(v.Rows) > 0 {
			s += fmt.Sprintf(", first row %v", v.Rows[0])
		}
	case *Media:
		s = fmt.Sprintf("media %s (%d bytes)", v.MIME, len(v.Data))
	case []byte:
		s = string(v)
	default:
		s = fmt.Sprint(v)
	}

	return truncate(s, limit)
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
