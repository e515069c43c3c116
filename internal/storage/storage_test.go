package storage

import (
	"context"
	"fmt"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/models"
)

func record(id, email string, status models.QuizStatus, created time.Time) *models.RunRecord {
	return &models.RunRecord{
		ID:        id,
		Email:     email,
		StartURL:  "https://quiz.example.com/" + id,
		URLs:      []string{"https://quiz.example.com/" + id},
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryRepositorySaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	run := record("r1", "a@example.com", models.StatusRunning, now)
	require.NoError(t, repo.SaveRun(ctx, run))

	// Stored value is a copy
	run.URLs = append(run.URLs, "https://quiz.example.com/next")

	got, err := repo.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.URLs, 1)

	missing, err := repo.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryRepositoryListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Now()

	for i := 0; i < 5; i++ {
		status := models.StatusSucceeded
		if i%2 == 1 {
			status = models.StatusFailed
		}
		email := "a@example.com"
		if i == 4 {
			email = "b@example.com"
		}
		require.NoError(t, repo.SaveRun(ctx, record(fmt.Sprintf("r%d", i), email, status, base.Add(time.Duration(i)*time.Second))))
	}

	all, err := repo.ListRuns(ctx, models.ListFilters{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "r4", all[0].ID, "newest first")

	failed, err := repo.ListRuns(ctx, models.ListFilters{Status: models.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	byEmail, err := repo.ListRuns(ctx, models.ListFilters{Email: "a@example.com", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, byEmail, 2)
	assert.Equal(t, "r2", byEmail[0].ID)
	assert.Equal(t, "r1", byEmail[1].ID)

	empty, err := repo.ListRuns(ctx, models.ListFilters{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryRepositoryDeleteFinishedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	old := record("old", "a@example.com", models.StatusSucceeded, now.Add(-2*time.Hour))
	finished := now.Add(-time.Hour)
	old.FinishedAt = &finished

	recent := record("recent", "a@example.com", models.StatusFailed, now)
	justNow := now
	recent.FinishedAt = &justNow

	active := record("active", "a@example.com", models.StatusRunning, now.Add(-3*time.Hour))

	for _, r := range []*models.RunRecord{old, recent, active} {
		require.NoError(t, repo.SaveRun(ctx, r))
	}

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	runs, err := repo.ListRuns(ctx, models.ListFilters{})
	require.NoError(t, err)
	assert.Len(t, runs, 2, "active runs are never pruned")
}

func TestPendingMigrations(t *testing.T) {
	source := fstest.MapFS{
		"002_b.sql":  {Data: []byte("SELECT 2")},
		"001_a.sql":  {Data: []byte("SELECT 1")},
		"README.md":  {Data: []byte("docs")},
		"003_c.sql":  {Data: []byte("SELECT 3")},
		"nested/x.y": {Data: []byte("")},
	}

	pending, err := PendingMigrations(source, map[string]bool{"002_b.sql": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "003_c.sql"}, pending)
}

func TestMigrationSourceFallsBackToEmbedded(t *testing.T) {
	source := MigrationSource("/does/not/exist")
	content, err := fs.ReadFile(source, "001_quiz_runs.sql")
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE IF NOT EXISTS quiz_runs")
}

func TestOpenMemoryBackend(t *testing.T) {
	repo, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)
	assert.NoError(t, repo.Ping(context.Background()))

	_, err = Open(context.Background(), config.StorageConfig{Backend: "sqlite"})
	assert.Error(t, err)
}
