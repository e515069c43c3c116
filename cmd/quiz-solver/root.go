package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/terra-clan/quiz-solver/internal/config"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quiz-solver",
		Short: "Autonomous solver for chained data-analysis quizzes",
		Long: `quiz-solver accepts quiz URLs, plans and executes the data work each
quiz page describes, submits answers and follows the grader to the next quiz
until the chain ends or the time budget runs out.

Configuration is read from environment variables.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			level = config.LogConfig{Level: lvl}.SlogLevel()
		}
		if *debugLogging {
			level = slog.LevelDebug
		}
		setupLogging(level)
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newSolveCommand())
	cmd.AddCommand(newStatusCommand())

	return cmd
}

func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func execute() error {
	return newRootCommand().Execute()
}
