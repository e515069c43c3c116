package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/quiz-solver/internal/models"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "solve", "status"})
}

func TestSolveRequiresURL(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"solve"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestStatusPrintsHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"status":"healthy","total_quizzes":2,"successful_quizzes":1}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs([]string{"status", "--server", srv.URL})
	cmd.SetOut(&out)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var health map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 2.0, health["total_quizzes"])
}

func TestStatusPrintsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/runs/run-9", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    models.RunRecord{ID: "run-9", Status: models.StatusTimedOut},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs([]string{"status", "--server", srv.URL, "--api-key", "k", "--run", "run-9"})
	cmd.SetOut(&out)
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var run models.RunRecord
	require.NoError(t, json.Unmarshal(out.Bytes(), &run))
	assert.Equal(t, models.StatusTimedOut, run.Status)
}

func TestQuizFailedErrorMessage(t *testing.T) {
	err := &QuizFailedError{Message: "quiz failed: wrong answer"}
	assert.Equal(t, "quiz failed: wrong answer", err.Error())
}
