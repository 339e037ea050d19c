package main

import (
	"encoding/json"

	"apikit/pkg/retry"

	"github.com/spf13/cobra"
)

var getMaxAttempts int

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Fetch one resource with retries",
	Long: `Fetch a single JSON resource. Retryable failures (rate limits, quota,
server and network errors) are retried with exponential backoff.

The path is resolved against the configured base URL. Absolute URLs are
used as they are.`,
	Example: `  # Fetch a project
  apikit get projects/p-123

  # Fetch without retrying
  apikit get projects/p-123 --max-attempts 1`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().IntVar(&getMaxAttempts, "max-attempts", 0, "maximum number of attempts (default from config)")
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, map[string]interface{}{"max-attempts": getMaxAttempts})
	if err != nil {
		return err
	}

	result := retry.Do[json.RawMessage](cmd.Context(), a.client.Operation(args[0]), a.retry)
	raw, ok := result.Value()
	if !ok {
		failure, _ := result.Error()
		return failure
	}
	return printJSON(cmd.OutOrStdout(), raw)
}
