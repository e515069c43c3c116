package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/llm"
	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/monitor"
	"github.com/terra-clan/quiz-solver/internal/page"
	"github.com/terra-clan/quiz-solver/internal/runner"
	"github.com/terra-clan/quiz-solver/internal/submit"
)

// ErrBusy is returned when the concurrent run limit is reached
var ErrBusy = errors.New("too many quizzes in flight")

// ErrChainTooLong stops lineages that never stop handing out next URLs
var ErrChainTooLong = errors.New("quiz chain exceeded maximum length")

// Clock returns the current time
type Clock func() time.Time

// PlanRunner executes a plan against the step executor
type PlanRunner interface {
	Run(ctx context.Context, plan *models.ExecutionPlan, stop func() bool) *runner.Report
}

// Deps are the collaborators of one orchestrator
type Deps struct {
	Fetcher     page.Fetcher
	Planner     llm.Planner
	Runner      PlanRunner
	Synthesizer llm.Synthesizer
	Improver    llm.Improver
	Submitter   submit.Submitter
	Monitor     *monitor.Monitor
}

// Policy bounds each lineage
type Policy struct {
	// Budget is the wall-clock allowance of every URL in a chain
	Budget      time.Duration
	MaxAttempts int
	// MaxChain caps URLs per lineage; zero means unbounded
	MaxChain      int
	MaxConcurrent int64
}

// PolicyFromConfig maps quiz configuration onto a policy
func PolicyFromConfig(cfg config.QuizConfig) Policy {
	return Policy{
		Budget:        cfg.Timeout,
		MaxAttempts:   cfg.MaxAttempts,
		MaxChain:      cfg.MaxChain,
		MaxConcurrent: int64(cfg.MaxConcurrent),
	}
}

// Orchestrator drives quiz lineages through the solve state machine
type Orchestrator struct {
	deps   Deps
	policy Policy
	now    Clock
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now for deadline checks
func WithClock(now Clock) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator
func New(deps Deps, policy Policy, opts ...Option) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxConcurrent < 1 {
		policy.MaxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:   deps,
		policy: policy,
		now:    time.Now,
		sem:    semaphore.NewWeighted(policy.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Start registers a lineage and solves it in the background. It returns as
// soon as the run is registered; failures after that are only visible
// through the monitor.
func (o *Orchestrator) Start(ctx context.Context, req models.StartRequest) (*models.RunRecord, error) {
	if !o.sem.TryAcquire(1) {
		return nil, ErrBusy
	}

	run, err := o.deps.Monitor.RegisterStart(ctx, req.Email, req.URL)
	if err != nil {
		o.sem.Release(1)
		return nil, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.sem.Release(1)
		o.execute(o.ctx, run.ID, req)
	}()

	return run, nil
}

// Solve runs one lineage in the foreground and returns its final record
func (o *Orchestrator) Solve(ctx context.Context, req models.StartRequest) (*models.RunRecord, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	run, err := o.deps.Monitor.RegisterStart(ctx, req.Email, req.URL)
	if err != nil {
		return nil, err
	}

	o.execute(ctx, run.ID, req)
	return o.deps.Monitor.Get(ctx, run.ID)
}

// Shutdown waits for in-flight lineages, cancelling them if ctx ends first
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// execute always reports a terminal outcome, including when the lineage panics
func (o *Orchestrator) execute(ctx context.Context, runID string, req models.StartRequest) {
	outcome := models.Outcome{State: models.StateFailed, Reason: "run aborted"}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("orchestration panicked", "run_id", runID, "panic", rec)
			outcome = models.Outcome{
				State:  models.StateFailed,
				Reason: "internal error",
				Err:    fmt.Errorf("panic: %v", rec),
			}
		}
		o.deps.Monitor.RegisterTerminal(ctx, runID, outcome)
	}()

	outcome = o.lineage(ctx, runID, req)
}

// lineage follows the chain of next URLs, one fresh task per URL
func (o *Orchestrator) lineage(ctx context.Context, runID string, req models.StartRequest) models.Outcome {
	url := req.URL
	for hop := 1; ; hop++ {
		if o.policy.MaxChain > 0 && hop > o.policy.MaxChain {
			return models.Outcome{State: models.StateFailed, Reason: "chain limit reached", Err: ErrChainTooLong}
		}

		task := models.NewQuizTask(uuid.New().String(), url, req.Email, req.Secret, o.now(), o.policy.Budget)
		next, outcome := o.solve(ctx, runID, task)
		if next == "" {
			return outcome
		}

		slog.Info("following chain", "run_id", runID, "from", url, "to", next, "hop", hop)
		url = next
		o.deps.Monitor.Transition(ctx, runID, models.StateChaining, next, func(r *models.RunRecord) {
			r.CurrentURL = next
			r.URLs = append(r.URLs, next)
			r.Attempts = 0
			r.Reason = ""
		})
	}
}

// quiz carries the per-URL working state of the solve loop
type quiz struct {
	task    *models.QuizTask
	page    *models.QuizPage
	plan    *models.ExecutionPlan
	report  *runner.Report
	answer  models.Answer
	verdict *models.Verdict
	err     error
}

// solve runs the state machine for one URL. It returns a non-empty next URL
// when the lineage continues, otherwise the terminal outcome.
func (o *Orchestrator) solve(ctx context.Context, runID string, task *models.QuizTask) (string, models.Outcome) {
	q := &quiz{task: task}
	task.Status = models.StatusRunning
	state := models.StateFetching

	for {
		// Deadline first: nothing is entered once it has passed
		if task.Expired(o.now()) {
			o.logState(runID, task, models.StateTimedOut)
			return "", models.Outcome{
				State:  models.StateTimedOut,
				Reason: fmt.Sprintf("deadline exceeded while %s", state),
				Err:    context.DeadlineExceeded,
			}
		}

		switch state {
		case models.StateDone:
			task.Status = models.StatusSucceeded
			return "", models.Outcome{State: models.StateDone, Reason: q.verdict.Reason}
		case models.StateFailed:
			task.Status = models.StatusFailed
			return "", models.Outcome{State: models.StateFailed, Reason: failureReason(q), Err: q.err}
		case models.StateChaining:
			return q.verdict.NextURL, models.Outcome{}
		}

		o.logState(runID, task, state)
		o.deps.Monitor.Transition(ctx, runID, state, "", nil)

		state = o.step(ctx, runID, q, state)
	}
}

// step executes one state and returns the next one. External calls get a
// hard timeout equal to the time left on the task.
func (o *Orchestrator) step(runCtx context.Context, runID string, q *quiz, state models.State) models.State {
	task := q.task
	ctx, cancel := context.WithTimeout(runCtx, task.Remaining(o.now()))
	defer cancel()

	switch state {
	case models.StateFetching:
		pg, err := o.deps.Fetcher.Fetch(ctx, task.URL)
		if err != nil {
			return q.fail(models.StageFetch, err)
		}
		if pg.SubmitURL == "" {
			return q.fail(models.StageFetch, models.ErrNoSubmitURL)
		}
		q.page = pg
		return models.StatePlanning

	case models.StatePlanning:
		plan, err := o.deps.Planner.Plan(ctx, q.page)
		if err != nil {
			return q.fail(models.StagePlan, err)
		}
		q.plan = plan
		if plan.IsDirect() {
			slog.Info("plan has no steps, answering directly", "run_id", runID, "url", task.URL)
			return models.StateSynthesizing
		}
		return models.StateExecuting

	case models.StateExecuting:
		q.report = o.deps.Runner.Run(ctx, q.plan, func() bool {
			return task.Expired(o.now())
		})
		if q.report.Aborted() {
			attrs := []any{
				"run_id", runID,
				"completed", q.report.Results.Keys(),
				"interrupted", q.report.Interrupted,
			}
			if q.report.AbortErr != nil {
				attrs = append(attrs,
					"aborted_at", q.report.AbortedAt,
					"error", models.NewStageError(models.StageExecute, q.report.AbortErr),
				)
			}
			slog.Warn("plan stopped early, synthesizing from partial results", attrs...)
		}
		return models.StateSynthesizing

	case models.StateSynthesizing:
		results := models.NewResultsRegistry()
		if q.report != nil {
			results = q.report.Results
		}
		answer, err := o.deps.Synthesizer.Synthesize(ctx, q.page.Text(), q.plan.AnswerKind, results)
		if err != nil {
			return q.fail(models.StageSynthesize, err)
		}
		q.answer = answer
		q.report = nil
		return models.StateSubmitting

	case models.StateSubmitting:
		verdict, err := o.deps.Submitter.Submit(ctx, submit.Request{
			SubmitURL: q.page.SubmitURL,
			Email:     task.Email,
			Secret:    task.Secret,
			QuizURL:   task.URL,
			Answer:    q.answer,
		})
		if err != nil {
			return q.fail(models.StageSubmit, err)
		}

		task.AttemptCount++
		q.verdict = verdict
		o.deps.Monitor.Transition(runCtx, runID, models.StateSubmitting, verdict.Reason, func(r *models.RunRecord) {
			r.Attempts = task.AttemptCount
			r.Submissions++
			r.LastAnswer = q.answer.String()
			r.Reason = verdict.Reason
		})

		switch {
		case verdict.HasNext():
			// Chaining wins over retrying, whatever the verdict says
			return models.StateChaining
		case verdict.Correct:
			return models.StateDone
		case task.AttemptCount >= o.policy.MaxAttempts:
			q.err = fmt.Errorf("incorrect after %d attempts", task.AttemptCount)
			return models.StateFailed
		default:
			return models.StateRetrying
		}

	case models.StateRetrying:
		improved, err := o.deps.Improver.Improve(ctx, q.page.Text(), q.answer, q.verdict.Reason)
		if err != nil {
			slog.Warn("improver failed, resubmitting prior answer", "run_id", runID, "error", err)
		} else {
			q.answer = improved
		}
		return models.StateSubmitting
	}

	q.err = fmt.Errorf("unexpected state %s", state)
	return models.StateFailed
}

func (q *quiz) fail(stage models.Stage, err error) models.State {
	q.err = models.NewStageError(stage, err)
	return models.StateFailed
}

func (o *Orchestrator) logState(runID string, task *models.QuizTask, state models.State) {
	slog.Info("state transition",
		"run_id", runID,
		"task_id", task.ID,
		"url", task.URL,
		"attempt", task.AttemptCount,
		"state", state,
		"remaining_s", int(task.Remaining(o.now()).Seconds()),
	)
}

func failureReason(q *quiz) string {
	if q.verdict != nil && q.verdict.Reason != "" {
		return q.verdict.Reason
	}
	var se *models.StageError
	if errors.As(q.err, &se) {
		return fmt.Sprintf("%s failed", se.Stage)
	}
	return "failed"
}
