package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile  string
	logLevel    string
	quiet       bool
	metricsAddr string
	baseURL     string
	profile     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apikit",
	Short: "Call, page through and sync paginated JSON APIs",
	Long: `apikit talks to paginated JSON APIs the way a careful client should.

Features:
  - Failures classified into auth, not_found, quota, rate_limit, server,
    network, validation and unknown
  - Exponential backoff with jitter, honouring Retry-After hints
  - Lazy pagination over token or next-link style list endpoints
  - Resumable syncs into JSON Lines files with duplicate detection
  - Secure token storage using the system keychain or an encrypted file
  - Prometheus metrics for retries, pages and requests`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printFailure(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .apikit.yaml or $HOME/.config/apikit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except results and errors")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "base URL of the API")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "stored token profile used for bearer auth")

	rootCmd.SetVersionTemplate(`apikit {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// globalFlags returns the persistent flags in the shape config.Load merges
func globalFlags() map[string]interface{} {
	flags := map[string]interface{}{
		"base-url":     baseURL,
		"profile":      profile,
		"metrics-addr": metricsAddr,
		"log-level":    logLevel,
	}
	if quiet {
		flags["log-level"] = "error"
	}
	return flags
}
