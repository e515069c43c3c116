package models

import (
	"fmt"
	"strings"
)

// StepKind is the closed set of step types a plan may contain
type StepKind string

const (
	StepDownload    StepKind = "download"
	StepScrape      StepKind = "scrape"
	StepAPICall     StepKind = "api_call"
	StepProcessData StepKind = "process_data"
	StepAnalyzeData StepKind = "analyze_data"
	StepVisualize   StepKind = "visualize"
)

// AllStepKinds lists every step kind in declaration order
func AllStepKinds() []StepKind {
	return []StepKind{
		StepDownload,
		StepScrape,
		StepAPICall,
		StepProcessData,
		StepAnalyzeData,
		StepVisualize,
	}
}

// stepKindAliases maps the names planners tend to emit onto step kinds
var stepKindAliases = map[string]StepKind{
	"download_file": StepDownload,
	"fetch_file":    StepDownload,
	"scrape_data":   StepScrape,
	"scrape_page":   StepScrape,
	"api":           StepAPICall,
	"call_api":      StepAPICall,
	"process":       StepProcessData,
	"analyze":       StepAnalyzeData,
	"visualise":     StepVisualize,
	"visualization": StepVisualize,
}

// ParseStepKind resolves a step kind name, accepting known aliases
func ParseStepKind(name string) (StepKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	kind := StepKind(n)
	if kind.Valid() {
		return kind, nil
	}
	if alias, ok := stepKindAliases[n]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("unknown step kind %q", name)
}

// Valid returns true if k is one of the declared step kinds
func (k StepKind) Valid() bool {
	for _, known := range AllStepKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Step is one typed unit of work in an execution plan
type Step struct {
	Kind        StepKind       `json:"kind"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	ResultKey   string         `json:"result_key"`
	Required    bool           `json:"required,omitempty"`
}

// Input returns the result key this step reads from, if any
func (s Step) Input() string {
	if s.Parameters == nil {
		return ""
	}
	if v, ok := s.Parameters["input"].(string); ok {
		return v
	}
	return ""
}

// ExecutionPlan is the ordered sequence of steps produced by the planner
type ExecutionPlan struct {
	Steps      []Step     `json:"steps"`
	AnswerKind AnswerKind `json:"answer_type,omitempty"`
	// Skipped holds result keys of steps dropped while planning
	Skipped []string `json:"skipped,omitempty"`
}

// Validate checks the plan invariants: known kinds, unique result keys,
// and inputs that only reference earlier or skipped steps.
func (p *ExecutionPlan) Validate() error {
	if p.AnswerKind != "" && !p.AnswerKind.Valid() {
		return fmt.Errorf("unknown answer type %q", p.AnswerKind)
	}

	seen := make(map[string]bool, len(p.Steps))
	skipped := make(map[string]bool, len(p.Skipped))
	for _, key := range p.Skipped {
		skipped[key] = true
	}
	for i, step := range p.Steps {
		if !step.Kind.Valid() {
			return fmt.Errorf("step %d: unknown kind %q", i, step.Kind)
		}
		if step.ResultKey == "" {
			return fmt.Errorf("step %d: result_key is required", i)
		}
		if seen[step.ResultKey] || skipped[step.ResultKey] {
			return fmt.Errorf("step %d: duplicate result_key %q", i, step.ResultKey)
		}
		if in := step.Input(); in != "" && !seen[in] && !skipped[in] {
			return fmt.Errorf("step %d: input %q does not reference an earlier step", i, in)
		}
		seen[step.ResultKey] = true
	}

	return nil
}

// IsDirect returns true if the plan has no steps and the quiz text is answered as-is
func (p *ExecutionPlan) IsDirect() bool {
	return len(p.Steps) == 0
}
