package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/terra-clan/quiz-solver/pkg/client"
)

func newStatusCommand() *cobra.Command {
	var (
		server string
		apiKey string
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print health counters or a run record from a running server",
		Long: `Query a running quiz-solver.

Without --run, prints the /health counters. With --run, prints that run's
record; this needs the admin API key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.NewClient(server, apiKey)
			return printStatus(cmd, c, runID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8000", "Base URL of the quiz-solver server")
	cmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("ADMIN_API_KEY"), "Admin API key for run lookups")
	cmd.Flags().StringVar(&runID, "run", "", "Run ID to look up")
	return cmd
}

func printStatus(cmd *cobra.Command, c *client.Client, runID string, out io.Writer) error {
	var (
		v   any
		err error
	)
	if runID != "" {
		v, err = c.GetRun(cmd.Context(), runID)
	} else {
		v, err = c.Health(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
