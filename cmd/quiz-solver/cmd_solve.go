package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/terra-clan/quiz-solver/internal/config"
	"github.com/terra-clan/quiz-solver/internal/models"
)

func newSolveCommand() *cobra.Command {
	var req models.StartRequest

	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve one quiz chain in the foreground",
		Long: `Solve the quiz at --url and every quiz the grader chains to, then print
the final run record as JSON. Email and secret default to STUDENT_EMAIL and
STUDENT_SECRET.

Exits 1 when the chain ends failed or timed out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&req.URL, "url", "", "Quiz URL to start from (required)")
	cmd.Flags().StringVar(&req.Email, "email", "", "Submitter email (default $STUDENT_EMAIL)")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Submitter secret (default $STUDENT_SECRET)")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runSolve(parent context.Context, req models.StartRequest) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if req.Email == "" {
		req.Email = cfg.Student.Email
	}
	if req.Secret == "" {
		req.Secret = cfg.Student.Secret
	}
	if req.Email == "" {
		return fmt.Errorf("email is required: pass --email or set STUDENT_EMAIL")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.orchestrator.Solve(ctx, req)
	if err != nil {
		return fmt.Errorf("solve failed: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run record missing after solve")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("failed to print run: %w", err)
	}

	if run.Status != models.StatusSucceeded {
		return &QuizFailedError{Message: fmt.Sprintf("quiz %s: %s", run.Status, run.Reason)}
	}
	return nil
}
