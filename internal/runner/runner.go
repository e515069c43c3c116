package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// StepExecutor runs a single step against the results recorded so far
type StepExecutor interface {
	Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error)
}

// Policy controls per-step retries
type Policy struct {
	// Retries is the number of extra attempts for transient failures
	Retries int
	Backoff time.Duration
	// StepTimeout bounds each attempt; zero leaves the context as is
	StepTimeout time.Duration
}

// DefaultPolicy retries transient failures twice with a short fixed backoff
func DefaultPolicy() Policy {
	return Policy{
		Retries:     2,
		Backoff:     500 * time.Millisecond,
		StepTimeout: 30 * time.Second,
	}
}

// Report describes one plan run
type Report struct {
	Results *models.ResultsRegistry
	// Executed counts steps that ran to a recorded outcome
	Executed int
	Failed   int
	// Attempts counts executor calls including retries
	Attempts int
	// AbortedAt is the index of the step that stopped the plan, or -1
	AbortedAt int
	AbortErr  error
	// Interrupted is set when the stop check or context ended the run early
	Interrupted bool
}

// Aborted reports whether the plan stopped before its last step
func (r *Report) Aborted() bool {
	return r.AbortedAt >= 0 || r.Interrupted
}

// Runner executes plans step by step
type Runner struct {
	exec   StepExecutor
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a plan runner
func New(exec StepExecutor, policy Policy) *Runner {
	return &Runner{
		exec:   exec,
		policy: policy,
		sleep:  sleepCtx,
	}
}

// Run executes plan in order. Transient failures are retried and then
// recorded as failed entries; a permanent failure, or exhausted retries on a
// required step, records the failure and skips the remaining steps. stop is
// consulted before each step and may be nil.
func (r *Runner) Run(ctx context.Context, plan *models.ExecutionPlan, stop func() bool) *Report {
	report := &Report{
		Results:   models.NewResultsRegistry(),
		AbortedAt: -1,
	}

	for i, step := range plan.Steps {
		if ctx.Err() != nil || (stop != nil && stop()) {
			report.Interrupted = true
			slog.Info("plan interrupted", "step", i, "remaining", len(plan.Steps)-i)
			return report
		}

		start := time.Now()
		value, attempts, err := r.runStep(ctx, step, report.Results)
		report.Attempts += attempts
		report.Executed++

		log := slog.With(
			"step", i,
			"kind", step.Kind,
			"result_key", step.ResultKey,
			"attempts", attempts,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		if err == nil {
			r.record(report, models.Result{Key: step.ResultKey, Kind: step.Kind, Value: value})
			log.Info("step completed")
			continue
		}

		report.Failed++
		r.record(report, models.Result{Key: step.ResultKey, Kind: step.Kind, Failed: true, Error: err.Error()})

		if !models.IsTransient(err) || step.Required {
			report.AbortedAt = i
			report.AbortErr = err
			log.Warn("step failed, aborting plan", "required", step.Required, "error", err)
			return report
		}

		log.Warn("step failed, continuing", "error", err)
	}

	return report
}

func (r *Runner) runStep(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, int, error) {
	// Dependent steps are recorded as failed without being attempted
	if in := step.Input(); in != "" {
		res, ok := results.Get(in)
		switch {
		case !ok:
			return nil, 0, models.Transient(fmt.Errorf("input %q unavailable: step was not run", in))
		case res.Failed:
			return nil, 0, models.Transient(fmt.Errorf("input %q unavailable: %s", in, res.Error))
		}
	}

	attempts := 0
	for {
		attempts++
		value, err := r.attempt(ctx, step, results)
		if err == nil {
			return value, attempts, nil
		}
		if !models.IsTransient(err) || attempts > r.policy.Retries {
			return nil, attempts, err
		}

		slog.Debug("retrying step", "result_key", step.ResultKey, "attempt", attempts, "error", err)
		if serr := r.sleep(ctx, r.policy.Backoff); serr != nil {
			return nil, attempts, err
		}
	}
}

func (r *Runner) attempt(ctx context.Context, step models.Step, results *models.ResultsRegistry) (value any, err error) {
	if r.policy.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.StepTimeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = models.Permanent(fmt.Errorf("step panicked: %v", rec))
		}
	}()

	return r.exec.Execute(ctx, step, results)
}

func (r *Runner) record(report *Report, res models.Result) {
	if err := report.Results.Put(res); err != nil {
		slog.Error("failed to record step result", "result_key", res.Key, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
