package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"apikit/pkg/classify"

	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <status|message>",
	Short: "Show how a status code or error message is classified",
	Long: `Show the failure kind apikit assigns to an HTTP status code or an
error message, and whether such a failure is retried.`,
	Example: `  apikit classify 429
  apikit classify 503
  apikit classify "dial tcp: connection refused"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	input := strings.Join(args, " ")

	var raw any = errors.New(input)
	if status, err := strconv.Atoi(input); err == nil {
		raw = status
	}
	failure := classify.Classify(raw)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "kind:        %s\n", failure.Kind)
	fmt.Fprintf(w, "retryable:   %t\n", failure.Retryable())
	fmt.Fprintf(w, "message:     %s\n", failure.Message)
	if failure.Code != 0 {
		fmt.Fprintf(w, "code:        %d\n", failure.Code)
	}
	if failure.RetryAfter > 0 {
		fmt.Fprintf(w, "retry after: %s\n", failure.RetryAfter)
	}
	fmt.Fprintf(w, "hint:        %s\n", hint(failure.Kind))
	return nil
}
