package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/llm"
	"github.com/terra-clan/quiz-solver/internal/monitor"
	"github.com/terra-clan/quiz-solver/internal/orchestrator"
	"github.com/terra-clan/quiz-solver/internal/page"
	"github.com/terra-clan/quiz-solver/internal/prompts"
	"github.com/terra-clan/quiz-solver/internal/runner"
	"github.com/terra-clan/quiz-solver/internal/sandbox"
	"github.com/terra-clan/quiz-solver/internal/services"
	"github.com/terra-clan/quiz-solver/internal/steps"
	"github.com/terra-clan/quiz-solver/internal/storage"
	"github.com/terra-clan/quiz-solver/internal/submit"
)

// app holds the wired components shared by serve and solve
type app struct {
	cfg          *config.Config
	repo         storage.Repository
	monitor      *monitor.Monitor
	orchestrator *orchestrator.Orchestrator
	sandbox      *sandbox.DockerRunner
	dependencies *services.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	repo, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	slog.Info("run history storage ready", "backend", cfg.Storage.Backend)

	a := &app{cfg: cfg, repo: repo, dependencies: services.NewRegistry()}
	a.monitor = monitor.New(repo)
	a.dependencies.Register("storage", services.NewPingFunc(cfg.Storage.Backend, repo.Ping))

	loader := prompts.NewLoader()
	if err := loader.LoadFromDir(cfg.LLM.PromptsDir); err != nil {
		slog.Warn("failed to load prompts from dir", "dir", cfg.LLM.PromptsDir, "error", err)
	}

	completer := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey,
		llm.WithModel(cfg.LLM.Model),
		llm.WithSampling(cfg.LLM.MaxTokens, cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	httpClient := &http.Client{Timeout: cfg.Quiz.RequestTimeout}
	execOpts := []steps.Option{steps.WithHTTPClient(httpClient)}
	if cfg.Sandbox.Enabled {
		docker, err := sandbox.NewDockerRunner(cfg.Sandbox)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create sandbox runner: %w", err)
		}
		if err := docker.Ping(ctx); err != nil {
			slog.Warn("docker daemon not reachable, code steps will fail", "error", err)
		}
		a.sandbox = docker
		a.dependencies.Register("sandbox", services.NewPingFunc("docker", docker.Ping))
		execOpts = append(execOpts, steps.WithCodeRunner(docker))
	}

	executor := steps.NewExecutor(execOpts...)
	planner, err := llm.NewPlanner(completer, loader, llm.WithStepKinds(executor.Kinds()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}

	plans := runner.New(executor, runner.Policy{
		Retries:     cfg.Quiz.StepRetries,
		Backoff:     cfg.Quiz.StepBackoff,
		StepTimeout: cfg.Quiz.RequestTimeout,
	})

	submitter := submit.NewClient(
		submit.WithTimeout(cfg.Quiz.RequestTimeout),
		submit.WithRetries(cfg.Quiz.SubmitRetries, time.Second),
		submit.WithSizeLimits(cfg.Quiz.SubmitWarnSize, cfg.Quiz.SubmitMaxSize),
	)

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Fetcher:     page.NewHTTPFetcher(page.WithTimeout(cfg.Quiz.RequestTimeout)),
		Planner:     planner,
		Runner:      plans,
		Synthesizer: llm.NewSynthesizer(completer, loader),
		Improver:    llm.NewImprover(completer, loader),
		Submitter:   submitter,
		Monitor:     a.monitor,
	}, orchestrator.PolicyFromConfig(cfg.Quiz))

	return a, nil
}

// Close releases storage and the Docker client
func (a *app) Close() {
	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			slog.Error("sandbox close error", "error", err)
		}
	}
	if err := a.repo.Close(); err != nil {
		slog.Error("storage close error", "error", err)
	}
}
