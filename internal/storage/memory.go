package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// MemoryRepository keeps runs in process memory
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*models.RunRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs: make(map[string]*models.RunRecord),
	}
}

// SaveRun stores a copy of run
func (r *MemoryRepository) SaveRun(_ context.Context, run *models.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run.Clone()
	return nil
}

// GetRun returns a copy of the run or nil
func (r *MemoryRepository) GetRun(_ context.Context, id string) (*models.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, nil
	}
	return run.Clone(), nil
}

// ListRuns returns matching runs, newest first
func (r *MemoryRepository) ListRuns(_ context.Context, filters models.ListFilters) ([]*models.RunRecord, error) {
	r.mu.RLock()
	runs := make([]*models.RunRecord, 0, len(r.runs))
	for _, run := range r.runs {
		if Matches(run, filters) {
			runs = append(runs, run.Clone())
		}
	}
	r.mu.RUnlock()

	return Page(runs, filters), nil
}

// DeleteFinishedBefore drops terminal runs finished before cutoff
func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, run := range r.runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// Matches reports whether run passes the email and status filters
func Matches(run *models.RunRecord, filters models.ListFilters) bool {
	if filters.Email != "" && run.Email != filters.Email {
		return false
	}
	if filters.Status != "" && run.Status != filters.Status {
		return false
	}
	return true
}

// Page sorts runs newest first and applies offset and limit
func Page(runs []*models.RunRecord, filters models.ListFilters) []*models.RunRecord {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(runs) {
			return []*models.RunRecord{}
		}
		runs = runs[filters.Offset:]
	}
	if filters.Limit > 0 && len(runs) > filters.Limit {
		runs = runs[:filters.Limit]
	}
	return runs
}
