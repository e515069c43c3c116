package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/models"
)

// Repository defines the interface for run history persistence
type Repository interface {
	// SaveRun inserts or replaces a run record
	SaveRun(ctx context.Context, run *models.RunRecord) error
	// GetRun returns nil, nil when the run does not exist
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, filters models.ListFilters) ([]*models.RunRecord, error)
	// DeleteFinishedBefore removes terminal runs finished before cutoff
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the repository selected by cfg.Backend
func Open(ctx context.Context, cfg config.StorageConfig) (Repository, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return NewMemoryRepository(), nil
	case config.BackendPostgres:
		repo, err := NewPostgresRepository(ctx, PostgresConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx, cfg.MigrationsDir); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case config.BackendRedis:
		return NewRedisRepository(ctx, RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
