package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/storage"
)

// ErrAlreadyRunning is returned when the same email and URL already have an active run
var ErrAlreadyRunning = errors.New("run already active for this email and url")

// persistTimeout bounds each repository write made on behalf of a run
const persistTimeout = 5 * time.Second

// Monitor is the process-wide task registry. It tracks active runs, keeps
// the health counters and persists every run record to the repository.
type Monitor struct {
	repo      storage.Repository
	hub       *Hub
	now       func() time.Time
	startedAt time.Time

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	active    atomic.Int64

	mu     sync.RWMutex
	runs   map[string]*models.RunRecord
	byLink map[string]string
}

// Option configures the monitor
type Option func(*Monitor)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithHub publishes state transitions to hub
func WithHub(hub *Hub) Option {
	return func(m *Monitor) {
		m.hub = hub
	}
}

// New creates a monitor backed by repo
func New(repo storage.Repository, opts ...Option) *Monitor {
	m := &Monitor{
		repo:   repo,
		now:    time.Now,
		runs:   make(map[string]*models.RunRecord),
		byLink: make(map[string]string),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.hub == nil {
		m.hub = NewHub(64)
	}
	m.startedAt = m.now()

	return m
}

// Hub returns the event hub
func (m *Monitor) Hub() *Hub {
	return m.hub
}

// RegisterStart records a new active run for email and url
func (m *Monitor) RegisterStart(ctx context.Context, email, url string) (*models.RunRecord, error) {
	key := linkKey(email, url)
	now := m.now()

	m.mu.Lock()
	if id, ok := m.byLink[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	run := &models.RunRecord{
		ID:         uuid.New().String(),
		Email:      email,
		StartURL:   url,
		CurrentURL: url,
		URLs:       []string{url},
		State:      models.StateFetching,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.runs[run.ID] = run
	m.byLink[key] = run.ID
	snapshot := run.Clone()
	m.mu.Unlock()

	m.total.Add(1)
	m.active.Add(1)

	slog.Info("run registered", "run_id", run.ID, "email", email, "url", url)
	m.persist(ctx, snapshot)
	m.publish(snapshot, "")

	return snapshot, nil
}

// Transition moves an active run to state. mutate, when set, runs under
// the registry lock and may update other fields of the record.
func (m *Monitor) Transition(ctx context.Context, id string, state models.State, message string, mutate func(*models.RunRecord)) {
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	run.State = state
	if !state.IsTerminal() {
		run.Status = models.StatusRunning
	}
	if mutate != nil {
		mutate(run)
	}
	run.UpdatedAt = m.now()
	snapshot := run.Clone()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	m.publish(snapshot, message)
}

// RegisterTerminal closes an active run with outcome. Calling it again for
// the same run is a no-op, so the active count never drops twice.
func (m *Monitor) RegisterTerminal(ctx context.Context, id string, outcome models.Outcome) {
	m.mu.Lock()
	run, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.runs, id)
	delete(m.byLink, linkKey(run.Email, run.StartURL))

	now := m.now()
	run.State = outcome.State
	run.Status = outcome.Status()
	run.Reason = outcome.Reason
	if outcome.Err != nil {
		run.Error = outcome.Err.Error()
	}
	run.UpdatedAt = now
	run.FinishedAt = &now
	snapshot := run.Clone()
	m.mu.Unlock()

	m.active.Add(-1)
	switch outcome.State {
	case models.StateDone:
		m.succeeded.Add(1)
	case models.StateTimedOut:
		m.timedOut.Add(1)
	default:
		m.failed.Add(1)
	}

	slog.Info("run finished",
		"run_id", id,
		"status", snapshot.Status,
		"chain_length", snapshot.ChainLength(),
		"submissions", snapshot.Submissions,
		"error", snapshot.Error,
	)
	m.persist(ctx, snapshot)
	m.publish(snapshot, outcome.Reason)
}

// Snapshot returns the current health counters
func (m *Monitor) Snapshot() models.HealthSnapshot {
	return models.HealthSnapshot{
		UptimeSeconds:     m.now().Sub(m.startedAt).Seconds(),
		TotalQuizzes:      m.total.Load(),
		SuccessfulQuizzes: m.succeeded.Load(),
		FailedQuizzes:     m.failed.Load(),
		TimedOutQuizzes:   m.timedOut.Load(),
		ActiveTaskCount:   m.active.Load(),
	}
}

// Get returns a run from the active set or the repository, or nil
func (m *Monitor) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	m.mu.RLock()
	if run, ok := m.runs[id]; ok {
		c := run.Clone()
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	return m.repo.GetRun(ctx, id)
}

// List returns persisted runs matching filters
func (m *Monitor) List(ctx context.Context, filters models.ListFilters) ([]*models.RunRecord, error) {
	return m.repo.ListRuns(ctx, filters)
}

// Active returns copies of the runs currently in flight
func (m *Monitor) Active() []*models.RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*models.RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run.Clone())
	}
	return runs
}

// Prune removes terminal runs that finished more than retention ago
func (m *Monitor) Prune(ctx context.Context, retention time.Duration) (int, error) {
	return m.repo.DeleteFinishedBefore(ctx, m.now().Add(-retention))
}

// Ping checks the repository
func (m *Monitor) Ping(ctx context.Context) error {
	return m.repo.Ping(ctx)
}

func (m *Monitor) persist(ctx context.Context, run *models.RunRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := m.repo.SaveRun(ctx, run); err != nil {
		slog.Error("failed to persist run", "run_id", run.ID, "error", err)
	}
}

func (m *Monitor) publish(run *models.RunRecord, message string) {
	m.hub.Publish(models.Event{
		RunID:     run.ID,
		URL:       run.CurrentURL,
		State:     run.State,
		Attempt:   run.Attempts,
		Message:   message,
		Timestamp: run.UpdatedAt,
	})
}

func linkKey(email, url string) string {
	return email + "\x00" + url
}
