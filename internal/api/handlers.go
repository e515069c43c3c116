package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/services"
)

// Response helpers

type apiResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Health handlers

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	models.HealthSnapshot
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Timestamp:      s.now().UTC().Format(time.RFC3339),
		HealthSnapshot: s.monitor.Snapshot(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps == nil {
		if err := s.monitor.Ping(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			respondError(w, http.StatusServiceUnavailable, "not_ready", "run storage unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}

	results := s.deps.HealthCheckAll(r.Context())
	checks := make(map[string]string, len(results))
	for name, err := range results {
		if err != nil {
			slog.Warn("dependency check failed", "dependency", name, "error", err)
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	if !services.Healthy(results) {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "not_ready",
			"dependencies": checks,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"dependencies": checks,
	})
}

// Run history handlers

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := models.ListFilters{
		Email:  query.Get("email"),
		Status: models.QuizStatus(query.Get("status")),
		Limit:  defaultListLimit,
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filters.Limit = min(limit, maxListLimit)
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filters.Offset = offset
		}
	}

	runs, err := s.monitor.List(r.Context(), filters)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		respondError(w, http.StatusInternalServerError, "list_failed", "failed to list runs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"count":  len(runs),
		"limit":  filters.Limit,
		"offset": filters.Offset,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.monitor.Get(r.Context(), id)
	if err != nil {
		slog.Error("failed to get run", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "get_failed", "failed to get run")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}

	respondJSON(w, http.StatusOK, run)
}
