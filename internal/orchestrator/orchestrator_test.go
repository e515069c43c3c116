package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/monitor"
	"github.com/terra-clan/quiz-solver/internal/runner"
	"github.com/terra-clan/quiz-solver/internal/storage"
	"github.com/terra-clan/quiz-solver/internal/submit"
)

const budget = 180 * time.Second

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeFetcher struct {
	mu    sync.Mutex
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*models.QuizPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return nil, f.err
	}
	return &models.QuizPage{URL: url, RawText: "What is 2+2?", SubmitURL: "https://grader.example.com/submit"}, nil
}

type fakePlanner struct {
	plan *models.ExecutionPlan
	hook func()
}

func (p *fakePlanner) Plan(context.Context, *models.QuizPage) (*models.ExecutionPlan, error) {
	if p.hook != nil {
		p.hook()
	}
	if p.plan == nil {
		return &models.ExecutionPlan{AnswerKind: models.AnswerNumber}, nil
	}
	return p.plan, nil
}

type fakeExecutor struct {
	calls int
	hook  func()
	// fail maps result keys to the error their step returns
	fail map[string]error
}

func (e *fakeExecutor) Execute(_ context.Context, step models.Step, _ *models.ResultsRegistry) (any, error) {
	e.calls++
	if e.hook != nil {
		e.hook()
	}
	if err := e.fail[step.ResultKey]; err != nil {
		return nil, err
	}
	return 4.0, nil
}

type fakeSynthesizer struct {
	mu   sync.Mutex
	seen []int
	err  error
}

func (s *fakeSynthesizer) Synthesize(_ context.Context, _ string, _ models.AnswerKind, results *models.ResultsRegistry) (models.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, results.Len())
	if s.err != nil {
		return models.Answer{}, s.err
	}
	return models.NumberAnswer(1), nil
}

type fakeImprover struct {
	mu      sync.Mutex
	calls   int
	err     error
	reasons []string
}

func (i *fakeImprover) Improve(_ context.Context, _ string, prior models.Answer, reason string) (models.Answer, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	i.reasons = append(i.reasons, reason)
	if i.err != nil {
		return models.Answer{}, i.err
	}
	return models.NumberAnswer(prior.Number + 1), nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	verdicts map[string][]*models.Verdict
	err      error
	hook     func()
	requests []submit.Request
}

func (s *fakeSubmitter) Submit(_ context.Context, req submit.Request) (*models.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return nil, s.err
	}
	queue := s.verdicts[req.QuizURL]
	if len(queue) == 0 {
		return &models.Verdict{Correct: false, Reason: "wrong"}, nil
	}
	v := queue[0]
	s.verdicts[req.QuizURL] = queue[1:]
	return v, nil
}

func (s *fakeSubmitter) countFor(url string) int {
	n := 0
	for _, r := range s.requests {
		if r.QuizURL == url {
			n++
		}
	}
	return n
}

type harness struct {
	clock     *clock
	fetcher   *fakeFetcher
	planner   *fakePlanner
	executor  *fakeExecutor
	synth     *fakeSynthesizer
	improver  *fakeImprover
	submitter *fakeSubmitter
	monitor   *monitor.Monitor
	policy    Policy
}

func newHarness() *harness {
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return &harness{
		clock:     c,
		fetcher:   &fakeFetcher{},
		planner:   &fakePlanner{},
		executor:  &fakeExecutor{},
		synth:     &fakeSynthesizer{},
		improver:  &fakeImprover{},
		submitter: &fakeSubmitter{verdicts: map[string][]*models.Verdict{}},
		monitor:   monitor.New(storage.NewMemoryRepository(), monitor.WithClock(c.Now)),
		policy:    Policy{Budget: budget, MaxAttempts: 3, MaxChain: 10, MaxConcurrent: 4},
	}
}

func (h *harness) orchestrator() *Orchestrator {
	r := runner.New(h.executor, runner.Policy{Retries: 2})
	return New(Deps{
		Fetcher:     h.fetcher,
		Planner:     h.planner,
		Runner:      r,
		Synthesizer: h.synth,
		Improver:    h.improver,
		Submitter:   h.submitter,
		Monitor:     h.monitor,
	}, h.policy, WithClock(h.clock.Now))
}

func (h *harness) solve(t *testing.T, url string) *models.RunRecord {
	t.Helper()
	run, err := h.orchestrator().Solve(context.Background(), models.StartRequest{
		Email:  "student@example.com",
		Secret: "s3cret",
		URL:    url,
	})
	require.NoError(t, err)
	require.NotNil(t, run)
	return run
}

func withSteps(n int) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{AnswerKind: models.AnswerNumber}
	for i := 0; i < n; i++ {
		plan.Steps = append(plan.Steps, models.Step{Kind: models.StepAnalyzeData, ResultKey: string(rune('a' + i))})
	}
	return plan
}

func TestCorrectOnFirstSubmission(t *testing.T) {
	h := newHarness()
	h.planner.plan = withSteps(2)
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: true}}

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, models.StatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Submissions)
	assert.Equal(t, 2, h.executor.calls)
	assert.Equal(t, []int{2}, h.synth.seen)

	snap := h.monitor.Snapshot()
	assert.Equal(t, int64(1), snap.SuccessfulQuizzes)
	assert.Equal(t, int64(0), snap.ActiveTaskCount)

	req := h.submitter.requests[0]
	assert.Equal(t, "https://grader.example.com/submit", req.SubmitURL)
	assert.Equal(t, "s3cret", req.Secret)
	assert.Equal(t, "https://q/1", req.QuizURL)
}

func TestCorrectOnThirdAttempt(t *testing.T) {
	h := newHarness()
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{
		{Correct: false, Reason: "off by one"},
		{Correct: false, Reason: "off by one"},
		{Correct: true},
	}

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, 3, run.Submissions)
	assert.Equal(t, 3, run.Attempts)
	assert.Equal(t, 2, h.improver.calls)
	assert.Equal(t, []string{"off by one", "off by one"}, h.improver.reasons)
	assert.Len(t, h.fetcher.calls, 1, "retries skip re-fetching and re-planning")

	// Each retry submits the improved answer
	assert.Equal(t, 1.0, h.submitter.requests[0].Answer.Number)
	assert.Equal(t, 2.0, h.submitter.requests[1].Answer.Number)
	assert.Equal(t, 3.0, h.submitter.requests[2].Answer.Number)
}

func TestAttemptsNeverExceedMax(t *testing.T) {
	h := newHarness()

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateFailed, run.State)
	assert.Equal(t, 3, run.Submissions)
	assert.Equal(t, 2, h.improver.calls)
	assert.Equal(t, "wrong", run.Reason)
	assert.Equal(t, int64(1), h.monitor.Snapshot().FailedQuizzes)
}

func TestChainingResetsAttemptsAndBudget(t *testing.T) {
	h := newHarness()
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{
		{Correct: false, Reason: "nope", NextURL: "https://x/quiz-2"},
	}
	h.submitter.verdicts["https://x/quiz-2"] = []*models.Verdict{
		{Correct: false, Reason: "close"},
		{Correct: true},
	}

	// Each submission burns 70s: the lineage outlives one budget but no single URL does
	h.submitter.hook = func() { h.clock.Advance(70 * time.Second) }

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, []string{"https://q/1", "https://x/quiz-2"}, run.URLs)
	assert.Equal(t, "https://x/quiz-2", run.CurrentURL)
	assert.Equal(t, 1, h.submitter.countFor("https://q/1"), "no retry of the original url")
	assert.Equal(t, 2, h.submitter.countFor("https://x/quiz-2"))
	assert.Equal(t, 2, run.Attempts, "attempts counted for the new url only")
	assert.Equal(t, 3, run.Submissions)
	assert.Equal(t, []string{"https://q/1", "https://x/quiz-2"}, h.fetcher.calls)
}

func TestCorrectVerdictWithNextURLChains(t *testing.T) {
	h := newHarness()
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: true, NextURL: "https://q/2"}}
	h.submitter.verdicts["https://q/2"] = []*models.Verdict{{Correct: true}}

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, 2, run.ChainLength())
}

func TestChainLimit(t *testing.T) {
	h := newHarness()
	h.policy.MaxChain = 2
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: true, NextURL: "https://q/2"}}
	h.submitter.verdicts["https://q/2"] = []*models.Verdict{{Correct: true, NextURL: "https://q/3"}}

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateFailed, run.State)
	assert.Contains(t, run.Error, ErrChainTooLong.Error())
	assert.Len(t, h.fetcher.calls, 2)
}

func TestDeadlineDuringExecutionTimesOut(t *testing.T) {
	h := newHarness()
	h.planner.plan = withSteps(3)
	h.executor.hook = func() { h.clock.Advance(budget + time.Second) }

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateTimedOut, run.State)
	assert.Equal(t, models.StatusTimedOut, run.Status)
	assert.Equal(t, 1, h.executor.calls, "no step starts after the deadline")
	assert.Empty(t, h.synth.seen, "no stage is entered after the deadline")
	assert.Empty(t, h.submitter.requests)

	snap := h.monitor.Snapshot()
	assert.Equal(t, int64(1), snap.TimedOutQuizzes)
	assert.Equal(t, int64(0), snap.FailedQuizzes)
	assert.Equal(t, int64(0), snap.ActiveTaskCount)
}

func TestTimeoutWinsOverSubmissionFailure(t *testing.T) {
	h := newHarness()
	h.submitter.err = models.Transient(errors.New("connection reset"))
	h.submitter.hook = func() { h.clock.Advance(budget + time.Second) }

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateTimedOut, run.State)
}

func TestTimeoutWinsOverRetry(t *testing.T) {
	h := newHarness()
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: false, Reason: "nope"}}
	h.submitter.hook = func() { h.clock.Advance(budget + time.Second) }

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateTimedOut, run.State)
	assert.Equal(t, 0, h.improver.calls)
	assert.Equal(t, 1, run.Submissions)
}

func TestSubmissionFailureFails(t *testing.T) {
	h := newHarness()
	h.submitter.err = models.Permanent(models.ErrMalformedVerdict)

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateFailed, run.State)
	assert.Contains(t, run.Error, "submit")
	assert.Equal(t, 0, run.Submissions)
}

func TestFetchFailures(t *testing.T) {
	h := newHarness()
	h.fetcher.err = errors.New("dns failure")

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateFailed, run.State)
	assert.Equal(t, "fetch failed", run.Reason)
	assert.Contains(t, run.Error, "dns failure")
	assert.Empty(t, h.submitter.requests)
}

func TestUncoercibleAnswerFailsBeforeSubmit(t *testing.T) {
	h := newHarness()
	h.planner.plan = withSteps(1)
	h.synth.err = fmt.Errorf("synthesized answer: %w", models.ErrAnswerKind)

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateFailed, run.State)
	assert.Equal(t, "synthesize failed", run.Reason)
	assert.Contains(t, run.Error, "wrong type")
	assert.Empty(t, h.submitter.requests)
}

func TestAbortedPlanSynthesizesPartialResults(t *testing.T) {
	h := newHarness()
	h.planner.plan = withSteps(3)
	h.executor.fail = map[string]error{"b": models.Permanent(errors.New("unsupported format"))}
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: true}}

	run := h.solve(t, "https://q/1")

	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, 2, h.executor.calls, "steps after the abort are not run")
	assert.Equal(t, []int{2}, h.synth.seen)
}

func TestImproverFailureKeepsPriorAnswer(t *testing.T) {
	h := newHarness()
	h.improver.err = errors.New("model unavailable")
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{
		{Correct: false, Reason: "nope"},
		{Correct: true},
	}

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateDone, run.State)
	require.Len(t, h.submitter.requests, 2)
	assert.Equal(t, h.submitter.requests[0].Answer, h.submitter.requests[1].Answer)
}

func TestDirectPlanSkipsExecution(t *testing.T) {
	h := newHarness()
	h.submitter.verdicts["https://q/1"] = []*models.Verdict{{Correct: true}}

	run := h.solve(t, "https://q/1")
	assert.Equal(t, models.StateDone, run.State)
	assert.Equal(t, 0, h.executor.calls)
	assert.Equal(t, []int{0}, h.synth.seen)
}

func TestStartPanicStillReleasesActiveCount(t *testing.T) {
	h := newHarness()
	h.planner.hook = func() { panic("planner exploded") }
	o := h.orchestrator()

	run, err := o.Start(context.Background(), models.StartRequest{Email: "a@example.com", URL: "https://q/1"})
	require.NoError(t, err)
	require.NoError(t, o.Shutdown(context.Background()))

	snap := h.monitor.Snapshot()
	assert.Equal(t, int64(0), snap.ActiveTaskCount)
	assert.Equal(t, int64(1), snap.FailedQuizzes)

	got, err := h.monitor.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Contains(t, got.Error, "planner exploded")
}

func TestStartRejectsDuplicateAndBusy(t *testing.T) {
	h := newHarness()
	h.policy.MaxConcurrent = 2
	release := make(chan struct{})
	h.planner.hook = func() { <-release }
	o := h.orchestrator()

	req := models.StartRequest{Email: "a@example.com", URL: "https://q/1"}
	_, err := o.Start(context.Background(), req)
	require.NoError(t, err)

	_, err = o.Start(context.Background(), req)
	assert.ErrorIs(t, err, monitor.ErrAlreadyRunning)

	_, err = o.Start(context.Background(), models.StartRequest{Email: "a@example.com", URL: "https://q/2"})
	require.NoError(t, err)

	_, err = o.Start(context.Background(), models.StartRequest{Email: "a@example.com", URL: "https://q/3"})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, o.Shutdown(context.Background()))
	assert.Equal(t, int64(0), h.monitor.Snapshot().ActiveTaskCount)
	assert.Equal(t, int64(2), h.monitor.Snapshot().TotalQuizzes)
}
