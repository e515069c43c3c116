package steps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/terra-clan/quiz-solver/internal/models"
)

type httpFetcher struct {
	client   *http.Client
	maxBytes int64
}

type fetched struct {
	URL         string
	ContentType string
	Body        []byte
}

type requestSpec struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// do performs the request and returns the decoded body. Network errors,
// 429 and 5xx are transient; other non-2xx statuses are permanent.
func (f *httpFetcher) do(ctx context.Context, spec requestSpec) (*fetched, error) {
	if spec.URL == "" {
		return nil, models.Permanent(fmt.Errorf("%w: url is required", ErrBadParameters))
	}
	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", "quiz-solver/1.0")
	// Setting this disables the transport's transparent gzip handling
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("request %s: %w", spec.URL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, models.Transient(fmt.Errorf("request %s: status %d", spec.URL, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, models.Permanent(fmt.Errorf("request %s: status %d", spec.URL, resp.StatusCode))
	}

	data, err := decodeBody(resp.Header.Get("Content-Encoding"), spec.URL, io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, models.Transient(fmt.Errorf("read %s: %w", spec.URL, err))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}

	return &fetched{URL: spec.URL, ContentType: ct, Body: data}, nil
}

// decodeBody undoes transfer compression and .gz/.zst file compression
func decodeBody(encoding, url string, r io.Reader) ([]byte, error) {
	ext := strings.ToLower(path.Ext(stripQuery(url)))

	switch {
	case strings.EqualFold(encoding, "gzip") || ext == ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case strings.EqualFold(encoding, "zstd") || ext == ".zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	default:
		return io.ReadAll(r)
	}
}

// isText reports whether a fetched payload should be kept as text
func (f *fetched) isText() bool {
	mt, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		mt = f.ContentType
	}
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/javascript", "application/csv", "application/x-ndjson":
		return true
	}
	name := strings.ToLower(stripQuery(f.URL))
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".zst")
	switch path.Ext(name) {
	case ".csv", ".json", ".txt", ".tsv", ".md", ".html", ".xml":
		return true
	}
	return false
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
