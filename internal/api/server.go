package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/models"
	"github.com/terra-clan/quiz-solver/internal/monitor"
	"github.com/terra-clan/quiz-solver/internal/services"
)

// QuizService starts orchestration runs
type QuizService interface {
	Start(ctx context.Context, req models.StartRequest) (*models.RunRecord, error)
}

// RunMonitor exposes health and run history
type RunMonitor interface {
	Snapshot() models.HealthSnapshot
	Get(ctx context.Context, id string) (*models.RunRecord, error)
	List(ctx context.Context, filters models.ListFilters) ([]*models.RunRecord, error)
	Ping(ctx context.Context) error
	Hub() *monitor.Hub
}

// Server represents the HTTP API server
type Server struct {
	config  config.ServerConfig
	student config.StudentConfig
	router  *chi.Mux
	quizzes QuizService
	monitor RunMonitor
	admin   *AdminAuth
	deps    *services.Registry
	now     func() time.Time
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithDependencies makes /ready report every registered dependency
func WithDependencies(deps *services.Registry) ServerOption {
	return func(s *Server) {
		s.deps = deps
	}
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, student config.StudentConfig, quizzes QuizService, mon RunMonitor, opts ...ServerOption) *Server {
	s := &Server{
		config:  cfg,
		student: student,
		quizzes: quizzes,
		monitor: mon,
		admin:   NewAdminAuth(cfg.AdminAPIKey),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Quiz protocol
	r.With(middleware.Timeout(30*time.Second)).Post("/quiz", s.handleStartQuiz)
	r.With(middleware.Timeout(30*time.Second)).Post("/test-submit", s.handleTestSubmit)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Run history, protected by the admin key when one is configured
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.admin.Authenticate)

		r.Get("/health", s.handleHealth)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
