package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/prompts"
)

// Planner turns a quiz page into an execution plan
type Planner interface {
	Plan(ctx context.Context, page *models.QuizPage) (*models.ExecutionPlan, error)
}

const planSchema = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "answer_type": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "anyOf": [{"required": ["kind"]}, {"required": ["type"]}],
        "properties": {
          "kind": {"type": "string"},
          "type": {"type": "string"},
          "description": {"type": "string"},
          "result_key": {"type": "string"},
          "name": {"type": "string"},
          "required": {"type": "boolean"},
          "parameters": {"type": "object"}
        }
      }
    }
  }
}`

// stepFields are the keys of a raw step that are not parameters
var stepFields = map[string]bool{
	"kind": true, "type": true, "description": true,
	"result_key": true, "name": true, "required": true, "parameters": true,
}

// LLMPlanner asks the model for a JSON plan and validates its shape
type LLMPlanner struct {
	completer Completer
	prompts   *prompts.Loader
	schema    *jsonschema.Schema
	kinds     []models.StepKind
}

// PlannerOption configures an LLMPlanner
type PlannerOption func(*LLMPlanner)

// WithStepKinds limits plans to the step kinds an executor can run. Steps of
// any other kind are dropped from decoded plans.
func WithStepKinds(kinds []models.StepKind) PlannerOption {
	return func(p *LLMPlanner) {
		if len(kinds) > 0 {
			p.kinds = kinds
		}
	}
}

// NewPlanner creates a planner backed by the given completer
func NewPlanner(completer Completer, loader *prompts.Loader, opts ...PlannerOption) (*LLMPlanner, error) {
	var doc any
	if err := json.Unmarshal([]byte(planSchema), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plan schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("plan.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile plan schema: %w", err)
	}

	p := &LLMPlanner{
		completer: completer,
		prompts:   loader,
		schema:    schema,
		kinds:     models.AllStepKinds(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Plan renders the planner prompt and decodes the reply. Replies that contain
// no JSON object fall back to a zero-step plan so the quiz is answered directly.
func (p *LLMPlanner) Plan(ctx context.Context, page *models.QuizPage) (*models.ExecutionPlan, error) {
	kinds := make([]string, 0, len(p.kinds))
	for _, k := range p.kinds {
		kinds = append(kinds, string(k))
	}

	system, user, err := p.prompts.Render(prompts.Planner, prompts.PlannerData{
		QuizText:  page.Text(),
		MediaRefs: page.MediaRefs,
		StepKinds: kinds,
	})
	if err != nil {
		return nil, err
	}

	reply, err := p.completer.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	raw, ok := extractJSON(reply)
	if !ok {
		slog.Warn("planner reply has no JSON, answering directly", "url", page.URL, "reply", truncate(reply, 200))
		return &models.ExecutionPlan{}, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		slog.Warn("planner reply is not valid JSON, answering directly", "url", page.URL, "error", err)
		return &models.ExecutionPlan{}, nil
	}

	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("plan does not match schema: %w", err)
	}

	plan := decodePlan(doc.(map[string]any), p.kinds)
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	slog.Info("plan created", "url", page.URL, "steps", len(plan.Steps), "answer_type", plan.AnswerKind)
	return plan, nil
}

func decodePlan(doc map[string]any, allowed []models.StepKind) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{}
	if at, ok := doc["answer_type"].(string); ok {
		plan.AnswerKind = ParseAnswerKind(at)
	}

	runnable := make(map[models.StepKind]bool, len(allowed))
	for _, k := range allowed {
		runnable[k] = true
	}

	rawSteps, _ := doc["steps"].([]any)
	for i, item := range rawSteps {
		raw := item.(map[string]any)

		name, _ := raw["kind"].(string)
		if name == "" {
			name, _ = raw["type"].(string)
		}
		kind, err := models.ParseStepKind(name)
		if err != nil || !runnable[kind] {
			// Reasoning-only steps are covered by synthesis. Dependents keep
			// their input and fail as unavailable at run time.
			key, _ := raw["result_key"].(string)
			if key == "" {
				key, _ = raw["name"].(string)
			}
			slog.Info("skipping plan step", "index", i, "kind", name, "result_key", key)
			if key != "" {
				plan.Skipped = append(plan.Skipped, key)
			}
			continue
		}

		step := models.Step{Kind: kind, Parameters: make(map[string]any)}
		step.Description, _ = raw["description"].(string)
		step.Required, _ = raw["required"].(bool)
		step.ResultKey, _ = raw["result_key"].(string)
		if step.ResultKey == "" {
			step.ResultKey, _ = raw["name"].(string)
		}
		if step.ResultKey == "" {
			step.ResultKey = fmt.Sprintf("step_%d", i+1)
		}

		if params, ok := raw["parameters"].(map[string]any); ok {
			for k, v := range params {
				step.Parameters[k] = v
			}
		}
		for k, v := range raw {
			if !stepFields[k] {
				step.Parameters[k] = v
			}
		}

		plan.Steps = append(plan.Steps, step)
	}

	return plan
}

// ParseAnswerKind maps the answer type names models emit onto answer tags
func ParseAnswerKind(name string) models.AnswerKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "boolean", "bool":
		return models.AnswerBoolean
	case "number", "integer", "int", "float":
		return models.AnswerNumber
	case "string", "text":
		return models.AnswerString
	case "object", "json", "array":
		return models.AnswerObject
	case "media", "image", "base64", "file":
		return models.AnswerMedia
	default:
		return ""
	}
}

// extractJSON returns the outermost JSON object in s
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
