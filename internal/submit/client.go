package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// Submitter posts answers to a grader
type Submitter interface {
	Submit(ctx context.Context, req Request) (*models.Verdict, error)
}

// Request is one submission round-trip
type Request struct {
	SubmitURL string
	Email     string
	Secret    string
	QuizURL   string
	Answer    models.Answer
}

// payload is the wire body; answer serializes per its tag
type payload struct {
	Email  string        `json:"email"`
	Secret string        `json:"secret"`
	URL    string        `json:"url"`
	Answer models.Answer `json:"answer"`
}

// Client submits answers over HTTP
type Client struct {
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	warnSize   int
	maxSize    int
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetries sets how many network retries one submission may use
func WithRetries(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoff = backoff
	}
}

// WithSizeLimits sets the warning threshold and the hard cap (0 disables the cap)
func WithSizeLimits(warn, limit int) Option {
	return func(c *Client) {
		c.warnSize = warn
		c.maxSize = limit
	}
}

// NewClient creates a submission client
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retries:  2,
		backoff:  time.Second,
		warnSize: 1 << 20,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Submit posts the answer and parses the grader's verdict. Network failures
// and 5xx replies are retried; a reply without a boolean "correct" field is
// ErrMalformedVerdict.
func (c *Client) Submit(ctx context.Context, req Request) (*models.Verdict, error) {
	if err := req.Answer.Validate(); err != nil {
		return nil, models.Permanent(err)
	}

	body, err := json.Marshal(payload{
		Email:  req.Email,
		Secret: req.Secret,
		URL:    req.QuizURL,
		Answer: req.Answer,
	})
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to marshal submission: %w", err))
	}

	log := slog.With("submit_url", req.SubmitURL, "quiz_url", req.QuizURL, "answer_type", req.Answer.Kind)
	log.Info("submitting answer", "payload_bytes", len(body))

	if c.maxSize > 0 && len(body) > c.maxSize {
		return nil, models.Permanent(fmt.Errorf("%w: %d > %d bytes", models.ErrPayloadTooLarge, len(body), c.maxSize))
	}
	if c.warnSize > 0 && len(body) > c.warnSize {
		log.Warn("submission payload is large", "payload_bytes", len(body), "threshold", c.warnSize)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			log.Warn("retrying submission", "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, c.backoff); err != nil {
				return nil, lastErr
			}
		}

		verdict, err := c.post(ctx, req.SubmitURL, body)
		if err == nil {
			log.Info("verdict received", "correct", verdict.Correct, "has_next", verdict.HasNext())
			return verdict, nil
		}
		lastErr = err
		if !models.IsTransient(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) post(ctx context.Context, submitURL string, body []byte) (*models.Verdict, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, models.Transient(fmt.Errorf("grader returned %d", resp.StatusCode))
	}

	verdict, err := ParseVerdict(respBody)
	if err != nil {
		if resp.StatusCode >= 400 {
			return nil, models.Permanent(fmt.Errorf("grader returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
		}
		return nil, models.Permanent(err)
	}

	return verdict, nil
}

// ParseVerdict decodes a grader response. Graders may reply with a 4xx and a
// well-formed verdict body, so the status code alone is not decisive.
func ParseVerdict(body []byte) (*models.Verdict, error) {
	var raw struct {
		Correct *bool   `json:"correct"`
		Reason  *string `json:"reason"`
		URL     *string `json:"url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedVerdict, err)
	}
	if raw.Correct == nil {
		return nil, fmt.Errorf("%w: missing \"correct\"", models.ErrMalformedVerdict)
	}

	v := &models.Verdict{Correct: *raw.Correct}
	if raw.Reason != nil {
		v.Reason = *raw.Reason
	}
	if raw.URL != nil {
		v.NextURL = *raw.URL
	}
	return v, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
