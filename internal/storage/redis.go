package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/quiz-solver/internal/models"
)

const (
	runKeyPrefix = "quiz:run:"
	runIndexKey  = "quiz:runs"
)

// RedisRepository stores runs as JSON values indexed by a sorted set on creation time
type RedisRepository struct {
	client *redis.Client
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisRepository connects to Redis and verifies the connection
func NewRedisRepository(ctx context.Context, cfg RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisRepositoryWithClient(client), nil
}

// NewRedisRepositoryWithClient wraps an existing client
func NewRedisRepositoryWithClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

// SaveRun writes the run and indexes it
func (r *RedisRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+run.ID, data, 0)
	pipe.ZAdd(ctx, runIndexKey, redis.Z{Score: float64(run.CreatedAt.UnixNano()), Member: run.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (r *RedisRepository) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	data, err := r.client.Get(ctx, runKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns loads every indexed run and filters in process
func (r *RedisRepository) ListRuns(ctx context.Context, filters models.ListFilters) ([]*models.RunRecord, error) {
	runs, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.RunRecord, 0, len(runs))
	for _, run := range runs {
		if Matches(run, filters) {
			matched = append(matched, run)
		}
	}
	return Page(matched, filters), nil
}

// DeleteFinishedBefore removes terminal runs finished before cutoff
func (r *RedisRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	runs, err := r.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	pipe := r.client.TxPipeline()
	deleted := 0
	for _, run := range runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			pipe.Del(ctx, runKeyPrefix+run.ID)
			pipe.ZRem(ctx, runIndexKey, run.ID)
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return deleted, nil
}

// Ping checks Redis connectivity
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) loadAll(ctx context.Context) ([]*models.RunRecord, error) {
	ids, err := r.client.ZRevRange(ctx, runIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKeyPrefix + id
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}

	runs := make([]*models.RunRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Index entry without a value; drop it lazily
			r.client.ZRem(ctx, runIndexKey, ids[i])
			continue
		}
		var run models.RunRecord
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run %s: %w", ids[i], err)
		}
		runs = append(runs, &run)
	}
	return runs, nil
}
