package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terra-clan/quiz-solver/internal/api"
	"github.com/terra-clan/quiz-solver/internal/cleanup"
	"github.com/terra-clan/quiz-solver/internal/config"
)

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service that accepts quiz tasks",
		Long: `Start the HTTP service.

POST /quiz accepts {email, secret, url} and solves the chain in the
background. /health reports counters; /api/v1 exposes run history and a
websocket event stream behind ADMIN_API_KEY.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for in-flight quizzes on shutdown")
	return cmd
}

func runServe(parent context.Context, shutdownTimeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting quiz-solver",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"sandbox", cfg.Sandbox.Enabled,
	)
	if cfg.Student.Secret == "" {
		slog.Warn("STUDENT_SECRET is not set, every /quiz request will be rejected")
	}

	initCtx, initCancel := context.WithTimeout(parent, 30*time.Second)
	a, err := newApp(initCtx, cfg)
	initCancel()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleaner := cleanup.NewCleaner(a.monitor, cfg.Cleanup.Interval, cfg.Storage.Retention)
	cleaner.Start(ctx)

	server := api.NewServer(cfg.Server, cfg.Student, a.orchestrator, a.monitor, api.WithDependencies(a.dependencies))
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // event stream connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	slog.Info("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
		slog.Warn("in-flight quizzes cancelled", "error", err)
	}
	<-cleaner.Done()

	slog.Info("quiz-solver stopped", "stats", a.monitor.Snapshot())
	return nil
}
