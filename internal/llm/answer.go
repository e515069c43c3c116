package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/prompts"
)

// Synthesizer produces an answer from the quiz text and intermediate results.
// It must tolerate partial registries, including failed entries.
type Synthesizer interface {
	Synthesize(ctx context.Context, quizText string, kind models.AnswerKind, results *models.ResultsRegistry) (models.Answer, error)
}

// Improver revises an answer from grader feedback without re-running the plan.
// The returned answer always carries the prior answer's tag.
type Improver interface {
	Improve(ctx context.Context, quizText string, prior models.Answer, reason string) (models.Answer, error)
}

// summaryLimit bounds how much of each result is rendered into prompts
const summaryLimit = 2000

// LLMSynthesizer asks the model for the final answer
type LLMSynthesizer struct {
	completer Completer
	prompts   *prompts.Loader
}

// NewSynthesizer creates a synthesizer backed by the given completer
func NewSynthesizer(completer Completer, loader *prompts.Loader) *LLMSynthesizer {
	return &LLMSynthesizer{completer: completer, prompts: loader}
}

// Synthesize renders the results summary and coerces the reply to kind.
// Media answers are taken from the last media result when one exists.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, quizText string, kind models.AnswerKind, results *models.ResultsRegistry) (models.Answer, error) {
	if kind == models.AnswerMedia {
		if media := lastMedia(results); media != nil {
			return models.MediaAnswer(dataURI(media)), nil
		}
	}

	system, user, err := s.prompts.Render(prompts.Synthesizer, prompts.SynthesizerData{
		QuizText:   quizText,
		Results:    results.Summary(summaryLimit),
		AnswerKind: string(kind),
	})
	if err != nil {
		return models.Answer{}, err
	}

	reply, err := s.completer.Complete(ctx, system, user)
	if err != nil {
		return models.Answer{}, fmt.Errorf("synthesizer completion: %w", err)
	}

	parsed := models.ParseAnswer(reply)
	answer, err := parsed.Coerce(kind)
	if err != nil {
		slog.Warn("answer does not match expected type", "expected", kind, "got", parsed.Kind, "error", err)
		return models.Answer{}, fmt.Errorf("synthesized answer: %w", err)
	}

	if err := answer.Validate(); err != nil {
		return models.Answer{}, fmt.Errorf("synthesized answer: %w", err)
	}

	return answer, nil
}

// LLMImprover asks the model for a corrected answer of the same tag
type LLMImprover struct {
	completer Completer
	prompts   *prompts.Loader
}

// NewImprover creates an improver backed by the given completer
func NewImprover(completer Completer, loader *prompts.Loader) *LLMImprover {
	return &LLMImprover{completer: completer, prompts: loader}
}

// Improve returns a revised answer coerced to prior's tag, or an error.
func (i *LLMImprover) Improve(ctx context.Context, quizText string, prior models.Answer, reason string) (models.Answer, error) {
	if prior.Kind == models.AnswerMedia {
		return models.Answer{}, fmt.Errorf("media answers cannot be revised from feedback")
	}

	system, user, err := i.prompts.Render(prompts.Improver, prompts.ImproverData{
		QuizText:    quizText,
		PriorAnswer: prior.String(),
		AnswerKind:  string(prior.Kind),
		Reason:      reason,
	})
	if err != nil {
		return models.Answer{}, err
	}

	reply, err := i.completer.Complete(ctx, system, user)
	if err != nil {
		return models.Answer{}, fmt.Errorf("improver completion: %w", err)
	}

	answer, err := models.ParseAnswer(reply).Coerce(prior.Kind)
	if err != nil {
		return models.Answer{}, fmt.Errorf("improved answer: %w", err)
	}
	if err := answer.Validate(); err != nil {
		return models.Answer{}, fmt.Errorf("improved answer: %w", err)
	}

	return answer, nil
}

func lastMedia(results *models.ResultsRegistry) *models.Media {
	entries := results.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if m, ok := entries[i].Value.(*models.Media); ok && !entries[i].Failed && len(m.Data) > 0 {
			return m
		}
	}
	return nil
}

func dataURI(m *models.Media) string {
	mime := m.MIME
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}
