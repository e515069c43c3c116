package models

import (
	"time"
)

// HealthSnapshot is the process-wide aggregate reported by the health monitor
type HealthSnapshot struct {
	UptimeSeconds     float64 `json:"uptime_seconds"`
	TotalQuizzes      int64   `json:"total_quizzes"`
	SuccessfulQuizzes int64   `json:"successful_quizzes"`
	FailedQuizzes     int64   `json:"failed_quizzes"`
	TimedOutQuizzes   int64   `json:"timed_out_quizzes"`
	ActiveTaskCount   int64   `json:"active_task_count"`
}

// RunRecord is the observable record of one orchestration lineage
// (a starting URL plus every chained URL that followed it).
type RunRecord struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	StartURL    string     `json:"start_url"`
	CurrentURL  string     `json:"current_url"`
	URLs        []string   `json:"urls"`
	State       State      `json:"state"`
	Status      QuizStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	Submissions int        `json:"submissions"`
	Reason      string     `json:"reason,omitempty"`
	Error       string     `json:"error,omitempty"`
	LastAnswer  string     `json:"last_answer,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand out to readers
func (r *RunRecord) Clone() *RunRecord {
	c := *r
	c.URLs = append([]string(nil), r.URLs...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// ChainLength returns the number of URLs visited so far
func (r *RunRecord) ChainLength() int {
	return len(r.URLs)
}

// Outcome is the terminal result handed to the task registry
type Outcome struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

// Status returns the quiz status for the outcome
func (o Outcome) Status() QuizStatus {
	return o.State.Status()
}

// ListFilters defines filters for listing runs
type ListFilters struct {
	Email  string
	Status QuizStatus
	Limit  int
	Offset int
}

// Event is a state transition broadcast to observers
type Event struct {
	RunID     string    `json:"run_id"`
	URL       string    `json:"url"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
