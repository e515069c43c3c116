package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

const runColumns = `id, email, start_url, current_url, urls, state, status, attempts, submissions,
	reason, error, last_answer, created_at, updated_at, finished_at`

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	}
	poolConfig.MinConns = 1
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Migrate applies the schema from dir, or the built-in migrations
func (r *PostgresRepository) Migrate(ctx context.Context, dir string) error {
	return RunMigrations(ctx, r.pool, MigrationSource(dir))
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// SaveRun upserts a run record
func (r *PostgresRepository) SaveRun(ctx context.Context, run *models.RunRecord) error {
	urlsJSON, err := json.Marshal(run.URLs)
	if err != nil {
		return fmt.Errorf("failed to marshal urls: %w", err)
	}

	query := `
		INSERT INTO quiz_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			current_url = EXCLUDED.current_url,
			urls = EXCLUDED.urls,
			state = EXCLUDED.state,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			submissions = EXCLUDED.submissions,
			reason = EXCLUDED.reason,
			error = EXCLUDED.error,
			last_answer = EXCLUDED.last_answer,
			updated_at = EXCLUDED.updated_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.Email,
		run.StartURL,
		run.CurrentURL,
		urlsJSON,
		string(run.State),
		string(run.Status),
		run.Attempts,
		run.Submissions,
		nullString(run.Reason),
		nullString(run.Error),
		nullString(run.LastAnswer),
		run.CreatedAt,
		run.UpdatedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM quiz_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs with optional filters, newest first
func (r *PostgresRepository) ListRuns(ctx context.Context, filters models.ListFilters) ([]*models.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM quiz_runs WHERE 1=1`
	args := make([]any, 0)
	argNum := 1

	if filters.Email != "" {
		query += fmt.Sprintf(" AND email = $%d", argNum)
		args = append(args, filters.Email)
		argNum++
	}

	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filters.Status))
		argNum++
	}

	query += " ORDER BY created_at DESC, id"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}

	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteFinishedBefore removes terminal runs finished before cutoff
func (r *PostgresRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM quiz_runs WHERE finished_at IS NOT NULL AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRun(row pgx.Row) (*models.RunRecord, error) {
	var run models.RunRecord
	var state, status string
	var reason, errMsg, lastAnswer sql.NullString
	var finishedAt sql.NullTime
	var urlsJSON []byte

	err := row.Scan(
		&run.ID,
		&run.Email,
		&run.StartURL,
		&run.CurrentURL,
		&urlsJSON,
		&state,
		&status,
		&run.Attempts,
		&run.Submissions,
		&reason,
		&errMsg,
		&lastAnswer,
		&run.CreatedAt,
		&run.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.State = models.State(state)
	run.Status = models.QuizStatus(status)
	run.Reason = reason.String
	run.Error = errMsg.String
	run.LastAnswer = lastAnswer.String

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	if err := json.Unmarshal(urlsJSON, &run.URLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal urls: %w", err)
	}

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
