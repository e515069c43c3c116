package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// ErrFetch is wrapped around every page acquisition failure
var ErrFetch = errors.New("fetch page")

// Fetcher acquires a quiz page and extracts its artifacts
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*models.QuizPage, error)
}

// HTTPFetcher fetches pages over plain HTTP and parses the returned HTML
type HTTPFetcher struct {
	httpClient *http.Client
	maxBytes   int64
	userAgent  string
}

// Option configures an HTTPFetcher
type Option func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.httpClient = client
	}
}

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.httpClient.Timeout = timeout
	}
}

// WithMaxBytes caps the page body size
func WithMaxBytes(n int64) Option {
	return func(f *HTTPFetcher) {
		f.maxBytes = n
	}
}

// NewHTTPFetcher creates a new page fetcher
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxBytes:  10 << 20,
		userAgent: "quiz-solver/1.0",
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch downloads url and parses it into a QuizPage
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*models.QuizPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	page, err := Parse(url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	slog.Info("quiz page fetched",
		"url", url,
		"text_length", len(page.RawText),
		"decoded_segments", len(page.DecodedSegments),
		"submit_url", page.SubmitURL,
		"media_refs", len(page.MediaRefs),
	)

	return page, nil
}
