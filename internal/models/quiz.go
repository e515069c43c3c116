package models

import (
	"strings"
	"time"
)

// QuizStatus represents the lifecycle status of a quiz task
type QuizStatus string

const (
	StatusPending   QuizStatus = "pending"
	StatusRunning   QuizStatus = "running"
	StatusSucceeded QuizStatus = "succeeded"
	StatusFailed    QuizStatus = "failed"
	StatusTimedOut  QuizStatus = "timed_out"
)

// IsTerminal returns true if the status is a terminal state
func (s QuizStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// State is a node of the orchestration state machine
type State string

const (
	StateFetching     State = "fetching"
	StatePlanning     State = "planning"
	StateExecuting    State = "executing"
	StateSynthesizing State = "synthesizing"
	StateSubmitting   State = "submitting"
	StateRetrying     State = "retrying"
	StateChaining     State = "chaining"
	StateDone         State = "done"
	StateFailed       State = "failed"
	StateTimedOut     State = "timed_out"
)

// IsTerminal returns true if no further transition leaves the state
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateTimedOut
}

// Status maps a terminal state to the quiz status recorded for it
func (s State) Status() QuizStatus {
	switch s {
	case StateDone:
		return StatusSucceeded
	case StateFailed:
		return StatusFailed
	case StateTimedOut:
		return StatusTimedOut
	default:
		return StatusRunning
	}
}

// QuizTask is the identity of one quiz URL being solved.
// A chain of quizzes produces one QuizTask per URL, each with a fresh deadline.
type QuizTask struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Email        string     `json:"email"`
	Secret       string     `json:"-"`
	StartedAt    time.Time  `json:"started_at"`
	Deadline     time.Time  `json:"deadline"`
	AttemptCount int        `json:"attempt_count"`
	Status       QuizStatus `json:"status"`
}

// NewQuizTask creates a pending task whose deadline is now + budget
func NewQuizTask(id, url, email, secret string, now time.Time, budget time.Duration) *QuizTask {
	return &QuizTask{
		ID:        id,
		URL:       url,
		Email:     email,
		Secret:    secret,
		StartedAt: now,
		Deadline:  now.Add(budget),
		Status:    StatusPending,
	}
}

// Expired reports whether now is past the deadline
func (t *QuizTask) Expired(now time.Time) bool {
	return now.After(t.Deadline)
}

// Remaining returns the time left before the deadline (0 if expired)
func (t *QuizTask) Remaining(now time.Time) time.Duration {
	remaining := t.Deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuizPage is the immutable result of fetching a quiz URL
type QuizPage struct {
	URL             string   `json:"url"`
	RawText         string   `json:"raw_text"`
	DecodedSegments []string `json:"decoded_segments,omitempty"`
	SubmitURL       string   `json:"submit_url"`
	MediaRefs       []string `json:"media_refs,omitempty"`
	HTML            string   `json:"-"`
}

// Text returns the quiz text: decoded segments first, then the visible page text
func (p *QuizPage) Text() string {
	var b strings.Builder
	for _, seg := range p.DecodedSegments {
		b.WriteString(seg)
		b.WriteString("\n")
	}
	b.WriteString(p.RawText)
	return strings.TrimSpace(b.String())
}

// Verdict is the grader's judgment of one submission
type Verdict struct {
	Correct bool   `json:"correct"`
	Reason  string `json:"reason,omitempty"`
	NextURL string `json:"url,omitempty"`
}

// HasNext reports whether the chain continues
func (v *Verdict) HasNext() bool {
	return strings.TrimSpace(v.NextURL) != ""
}

// StartRequest is the inbound trigger for a quiz orchestration
type StartRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// StartResponse acknowledges an accepted quiz request
type StartResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}
