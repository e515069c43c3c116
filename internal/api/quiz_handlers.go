package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/monitor"
	"github.com/terra-clan/quiz-solver/internal/orchestrator"
)

// maxRequestBody caps inbound JSON bodies
const maxRequestBody = 1 << 20

func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.URL = strings.TrimSpace(req.URL)
	if err := validateStart(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if s.student.Secret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.student.Secret)) != 1 {
		slog.Warn("invalid secret", "email", req.Email, "secret", maskSecret(req.Secret))
		respondError(w, http.StatusForbidden, "invalid_secret", "invalid secret")
		return
	}

	if s.student.Email != "" && !strings.EqualFold(req.Email, s.student.Email) {
		slog.Warn("email does not match configured student", "email", req.Email, "expected", s.student.Email)
	}

	run, err := s.quizzes.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrAlreadyRunning):
			respondError(w, http.StatusConflict, "already_running", "a run for this email and url is already in progress")
		case errors.Is(err, orchestrator.ErrBusy):
			respondError(w, http.StatusServiceUnavailable, "busy", "too many quizzes in flight, retry later")
		default:
			slog.Error("failed to start quiz", "url", req.URL, "error", err)
			respondError(w, http.StatusInternalServerError, "start_failed", "failed to start quiz")
		}
		return
	}

	slog.Info("quiz accepted", "run_id", run.ID, "email", req.Email, "url", req.URL)
	respondJSON(w, http.StatusOK, models.StartResponse{
		Status:  "accepted",
		Message: "Quiz task received and processing started",
		RunID:   run.ID,
	})
}

func validateStart(req models.StartRequest) error {
	switch {
	case req.Email == "":
		return errors.New("email is required")
	case req.Secret == "":
		return errors.New("secret is required")
	case req.URL == "":
		return errors.New("url is required")
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) url: %q", req.URL)
	}
	return nil
}

// testSubmitAnswer is the only answer the local grader accepts
const testSubmitAnswer = "4"

// handleTestSubmit is a local grader double. It replies with a bare verdict,
// like a real grader, rather than the API envelope.
func (s *Server) handleTestSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		URL    string `json:"url"`
		Answer any    `json:"answer"`
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(models.Verdict{Correct: false, Reason: "Error processing submission: invalid JSON"})
		return
	}

	got := strings.TrimSpace(fmt.Sprint(body.Answer))
	verdict := models.Verdict{Correct: got == testSubmitAnswer}
	if verdict.Correct {
		verdict.Reason = "Correct! The answer is 4."
	} else {
		verdict.Reason = fmt.Sprintf("Incorrect. You answered %s, but the correct answer is 4.", got)
	}

	slog.Info("test submission graded", "email", body.Email, "answer", got, "correct", verdict.Correct)
	_ = json.NewEncoder(w).Encode(verdict)
}
