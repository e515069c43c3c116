package steps

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// Common errors
var (
	ErrUnknownKind    = errors.New("no handler registered for step kind")
	ErrMissingInput   = errors.New("step input is not available")
	ErrCodeDisabled   = errors.New("code execution is disabled")
	ErrUnsupportedOp  = errors.New("unsupported operation")
	ErrBadParameters  = errors.New("invalid step parameters")
	ErrNoNumericInput = errors.New("input has no numeric values")
)

// Handler runs one step kind against the results produced so far.
// Failures are classified with models.Transient or models.Permanent.
type Handler interface {
	Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error)

// Execute calls f
func (f HandlerFunc) Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	return f(ctx, step, results)
}

// CodeRunner executes a Python snippet with input on stdin and returns stdout
type CodeRunner interface {
	Run(ctx context.Context, code string, input []byte) (string, error)
}

// Executor dispatches steps to the handler registered for their kind
type Executor struct {
	mu       sync.RWMutex
	handlers map[models.StepKind]Handler
}

// Option configures the default handler set
type Option func(*deps)

type deps struct {
	httpClient *http.Client
	code       CodeRunner
	maxBytes   int64
}

// WithHTTPClient sets the client used by network steps
func WithHTTPClient(client *http.Client) Option {
	return func(d *deps) {
		d.httpClient = client
	}
}

// WithCodeRunner enables the code parameter of data steps
func WithCodeRunner(runner CodeRunner) Option {
	return func(d *deps) {
		d.code = runner
	}
}

// WithMaxBytes caps downloaded payloads
func WithMaxBytes(n int64) Option {
	return func(d *deps) {
		d.maxBytes = n
	}
}

// NewExecutor creates an executor with a handler for every step kind
func NewExecutor(opts ...Option) *Executor {
	d := &deps{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxBytes:   50 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}

	fetcher := &httpFetcher{client: d.httpClient, maxBytes: d.maxBytes}

	e := &Executor{handlers: make(map[models.StepKind]Handler)}
	e.Register(models.StepDownload, &downloadHandler{fetcher: fetcher})
	e.Register(models.StepScrape, &scrapeHandler{fetcher: fetcher})
	e.Register(models.StepAPICall, &apiCallHandler{fetcher: fetcher})
	e.Register(models.StepProcessData, &processHandler{code: d.code})
	e.Register(models.StepAnalyzeData, &analyzeHandler{code: d.code})
	e.Register(models.StepVisualize, &visualizeHandler{})
	return e
}

// Register sets the handler for kind, replacing any existing one
func (e *Executor) Register(kind models.StepKind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Kinds returns the registered step kinds
func (e *Executor) Kinds() []models.StepKind {
	e.mu.RLock()
	defer e.mu.RUnlock()

	kinds := make([]models.StepKind, 0, len(e.handlers))
	for _, k := range models.AllStepKinds() {
		if _, ok := e.handlers[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Execute runs step through its kind's handler
func (e *Executor) Execute(ctx context.Context, step models.Step, results *models.ResultsRegistry) (any, error) {
	e.mu.RLock()
	h, ok := e.handlers[step.Kind]
	e.mu.RUnlock()

	if !ok {
		return nil, models.Permanent(fmt.Errorf("%w: %s", ErrUnknownKind, step.Kind))
	}

	return h.Execute(ctx, step, results)
}

// decodeParams decodes step parameters into a typed struct
func decodeParams(step models.Step, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return models.Permanent(err)
	}
	if err := dec.Decode(step.Parameters); err != nil {
		return models.Permanent(fmt.Errorf("%w: %v", ErrBadParameters, err))
	}
	return nil
}

// inputValue resolves the step's input reference
func inputValue(step models.Step, results *models.ResultsRegistry) (any, error) {
	key := step.Input()
	if key == "" {
		return nil, models.Permanent(fmt.Errorf("%w: step %s has no input", ErrMissingInput, step.ResultKey))
	}
	v, ok := results.Value(key)
	if !ok {
		return nil, models.Permanent(fmt.Errorf("%w: %s", ErrMissingInput, key))
	}
	return v, nil
}
