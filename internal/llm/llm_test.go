package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/prompts"
)

// scripted replays canned replies in order, repeating the last one
type scripted struct {
	mu      sync.Mutex
	replies []string
	calls   int
	prompts []string
}

func (s *scripted) Complete(_ context.Context, _, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, user)
	i := s.calls
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	s.calls++
	return s.replies[i], nil
}

func TestClientComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  42 \n"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "key", WithModel("test-model"), WithSampling(100, 0.1))
	reply, err := c.Complete(context.Background(), "sys", "question")
	require.NoError(t, err)
	assert.Equal(t, "42", reply)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "question", got.Messages[1].Content)
}

func TestClientErrorClasses(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key")

	_, err := c.Complete(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))

	status = http.StatusBadRequest
	_, err = c.Complete(context.Background(), "", "q")
	require.Error(t, err)
	assert.False(t, models.IsTransient(err))

	_, err = NewClient(srv.URL, "").Complete(context.Background(), "", "q")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func newPlanner(t *testing.T, replies ...string) (*LLMPlanner, *scripted) {
	t.Helper()
	s := &scripted{replies: replies}
	p, err := NewPlanner(s, prompts.NewLoader())
	require.NoError(t, err)
	return p, s
}

func TestPlannerDecodesPlan(t *testing.T) {
	p, s := newPlanner(t, "Here is the plan:\n```json\n"+`{
  "answer_type": "integer",
  "steps": [
    {"type": "download_file", "name": "raw", "url": "https://x/data.csv", "description": "get data"},
    {"type": "llm_reasoning", "name": "think"},
    {"kind": "process_data", "result_key": "table", "parameters": {"input": "raw", "format": "csv"}, "required": true},
    {"kind": "analyze_data", "parameters": {"input": "think", "operation": "sum"}}
  ]
}`+"\n```")

	page := &models.QuizPage{URL: "https://x/q", RawText: "Sum the values", MediaRefs: []string{"https://x/data.csv"}}
	plan, err := p.Plan(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, models.AnswerNumber, plan.AnswerKind)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, models.StepDownload, plan.Steps[0].Kind)
	assert.Equal(t, "raw", plan.Steps[0].ResultKey)
	assert.Equal(t, "https://x/data.csv", plan.Steps[0].Parameters["url"])

	assert.Equal(t, models.StepProcessData, plan.Steps[1].Kind)
	assert.True(t, plan.Steps[1].Required)
	assert.Equal(t, "raw", plan.Steps[1].Input())

	assert.Equal(t, "step_4", plan.Steps[2].ResultKey)
	assert.Equal(t, "think", plan.Steps[2].Input())
	assert.Equal(t, []string{"think"}, plan.Skipped)

	require.Len(t, s.prompts, 1)
	assert.Contains(t, s.prompts[0], "Sum the values")
}

func TestPlannerSkipsKindsWithoutHandler(t *testing.T) {
	s := &scripted{replies: []string{`{"answer_type": "string", "steps": [
  {"type": "download_file", "name": "raw", "url": "https://x/a.csv"},
  {"kind": "visualize", "name": "chart", "input": "raw"}
]}`}}
	p, err := NewPlanner(s, prompts.NewLoader(), WithStepKinds([]models.StepKind{models.StepDownload}))
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), &models.QuizPage{RawText: "How many rows?"})
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, []string{"chart"}, plan.Skipped)
	assert.NotContains(t, s.prompts[0], string(models.StepVisualize))
}

func TestPlannerFallsBackToDirectAnswer(t *testing.T) {
	p, _ := newPlanner(t, "I think the answer is simply 4.")
	plan, err := p.Plan(context.Background(), &models.QuizPage{RawText: "2+2?"})
	require.NoError(t, err)
	assert.True(t, plan.IsDirect())
}

func TestPlannerRejectsMalformedPlan(t *testing.T) {
	p, _ := newPlanner(t, `{"steps": "download everything"}`)
	_, err := p.Plan(context.Background(), &models.QuizPage{RawText: "q"})
	assert.ErrorContains(t, err, "schema")

	p, _ = newPlanner(t, `{"steps": [{"kind": "download", "result_key": "a"}, {"kind": "scrape", "result_key": "a"}]}`)
	_, err = p.Plan(context.Background(), &models.QuizPage{RawText: "q"})
	assert.ErrorContains(t, err, "duplicate")
}

func TestSynthesizerCoercesToKind(t *testing.T) {
	s := &scripted{replies: []string{"The total is 1,234"}}
	syn := NewSynthesizer(s, prompts.NewLoader())

	reg := models.NewResultsRegistry()
	require.NoError(t, reg.Put(models.Result{Key: "sum", Kind: models.StepAnalyzeData, Value: 1234.0}))
	require.NoError(t, reg.Put(models.Result{Key: "broken", Kind: models.StepScrape, Failed: true, Error: "404"}))

	s.replies = []string{"1,234"}
	answer, err := syn.Synthesize(context.Background(), "q", models.AnswerNumber, reg)
	require.NoError(t, err)
	assert.Equal(t, models.NumberAnswer(1234), answer)
	assert.Contains(t, s.prompts[0], "broken: ERROR: 404")

	s.replies = []string{"   "}
	_, err = syn.Synthesize(context.Background(), "q", "", reg)
	assert.ErrorIs(t, err, models.ErrEmptyAnswer)
}

func TestSynthesizerRejectsUncoercibleReply(t *testing.T) {
	s := &scripted{replies: []string{"I could not determine the total"}}
	syn := NewSynthesizer(s, prompts.NewLoader())

	_, err := syn.Synthesize(context.Background(), "Sum column B", models.AnswerNumber, models.NewResultsRegistry())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAnswerKind)

	// Without an expected tag the parsed string is submitted as is
	answer, err := syn.Synthesize(context.Background(), "Sum column B", "", models.NewResultsRegistry())
	require.NoError(t, err)
	assert.Equal(t, models.StringAnswer("I could not determine the total"), answer)
}

func TestSynthesizerUsesMediaResult(t *testing.T) {
	s := &scripted{replies: []string{"unused"}}
	syn := NewSynthesizer(s, prompts.NewLoader())

	reg := models.NewResultsRegistry()
	require.NoError(t, reg.Put(models.Result{Key: "chart", Kind: models.StepVisualize, Value: &models.Media{MIME: "image/png", Data: []byte{1, 2, 3}}}))

	answer, err := syn.Synthesize(context.Background(), "q", models.AnswerMedia, reg)
	require.NoError(t, err)
	assert.Equal(t, models.MediaAnswer("data:image/png;base64,AQID"), answer)
	assert.Zero(t, s.calls)
}

func TestImproverIsTypeStable(t *testing.T) {
	s := &scripted{replies: []string{"43", "forty-three", `{"value": 44}`}}
	imp := NewImprover(s, prompts.NewLoader())
	prior := models.NumberAnswer(42)

	first, err := imp.Improve(context.Background(), "q", prior, "off by one")
	require.NoError(t, err)
	assert.Equal(t, models.AnswerNumber, first.Kind)

	_, err = imp.Improve(context.Background(), "q", prior, "off by one")
	assert.Error(t, err, "uncoercible reply is rejected rather than changing tag")

	third, err := imp.Improve(context.Background(), "q", prior, "off by one")
	require.NoError(t, err)
	assert.Equal(t, models.NumberAnswer(44), third)

	assert.Contains(t, s.prompts[0], "Grader feedback: off by one")
}

func TestParseAnswerKind(t *testing.T) {
	assert.Equal(t, models.AnswerObject, ParseAnswerKind("JSON"))
	assert.Equal(t, models.AnswerMedia, ParseAnswerKind("image"))
	assert.Equal(t, models.AnswerKind(""), ParseAnswerKind("whatever"))
}
