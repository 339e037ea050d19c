package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"apikit/pkg/auth"
	"apikit/pkg/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage apikit configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (APIKIT_*), including .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is created in the current directory as '.apikit.yaml' unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging flags, environment,
configuration file and defaults. Secrets in headers and URLs are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Validate the effective configuration and report every problem found.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Checkpoint backend settings
  - Log file location`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# apikit configuration file
#
# Every option can also be set with an environment variable prefixed with
# APIKIT_, for example APIKIT_BASE_URL or APIKIT_MAX_ATTEMPTS.

# The API being called
http:
  base_url: "https://api.example.com/v1"
  timeout: 30s
  user_agent: "apikit/1.0"
  # Extra headers sent with every request
  headers: {}
  # Shape of list responses
  items_field: "items"
  next_field: "nextPageToken"
  cursor_param: "pageToken"
  page_size_param: "pageSize"
  # Set for APIs that return the URL of the next page (OData @odata.nextLink)
  next_link: false
  # Stored token used for bearer auth (see 'apikit auth login')
  auth_profile: "default"

# Retry policy for every call
retry:
  max_attempts: 4
  initial_delay: 1s
  max_delay: 30s
  # Range: 0-1
  jitter_factor: 0.2

pagination:
  # 0 lets the server choose
  page_size: 0
  max_pages: 100

# Client-side throttling; 0 disables it
rate_limit:
  requests_per_minute: 60
  burst_size: 10
  # token_bucket or sliding_window
  mode: "token_bucket"

# Where sync checkpoints are kept
checkpoint:
  # file or redis
  backend: "file"
  directory: ".apikit/checkpoints"
  redis_url: ""
  key_prefix: "apikit:checkpoint"

sync:
  output_file: "items.jsonl"
  # Concurrent detail fetches
  concurrency: 4
  # Item field used to detect duplicates
  key_field: "id"

metrics:
  enabled: false
  listen_addr: ":9090"

logging:
  # debug, info, warn, error
  level: "info"
  # Leave empty to log to stderr
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".apikit.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s (remove it first to overwrite)", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Configuration file created: %s\n", configPath)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "1. Set http.base_url to the API you want to call")
	fmt.Fprintln(w, "2. Run 'apikit config validate' to check the configuration")
	fmt.Fprintln(w, "3. Store a token with 'apikit auth login' if the API needs one")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(redactConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprint(w, string(data))

	fmt.Fprintln(w, "\n# Configuration sources (in order of priority):")
	fmt.Fprintln(w, "# 1. Command line flags")
	fmt.Fprintln(w, "# 2. Environment variables (APIKIT_*)")
	if configFile != "" {
		fmt.Fprintf(w, "# 3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(w, "# 3. Configuration file: (default locations)")
	}
	fmt.Fprintln(w, "# 4. Default values")
	return nil
}

// redactConfig returns a copy safe to print
func redactConfig(cfg *config.Config) *config.Config {
	display := *cfg

	if len(cfg.HTTP.Headers) > 0 {
		display.HTTP.Headers = make(map[string]string, len(cfg.HTTP.Headers))
		for k, v := range cfg.HTTP.Headers {
			if sensitiveHeader(k) {
				v = auth.Sanitize(&auth.Token{AccessToken: v}).AccessToken
			}
			display.HTTP.Headers[k] = v
		}
	}
	display.HTTP.BaseURL = redactURL(cfg.HTTP.BaseURL)
	display.Checkpoint.RedisURL = redactURL(cfg.Checkpoint.RedisURL)
	return &display
}

func sensitiveHeader(name string) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"auth", "token", "key", "secret", "cookie"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.HTTP.BaseURL == "" {
		warnings = append(warnings, "http.base_url is not set; pass --base-url to API commands")
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		} else {
			f.Close()
		}
	}
	if cfg.Retry.MaxAttempts == 1 {
		warnings = append(warnings, "retry.max_attempts is 1; failures will not be retried")
	}

	w := cmd.OutOrStdout()
	if len(warnings) > 0 {
		fmt.Fprintln(w, "Configuration warnings:")
		for _, warn := range warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Configuration is valid")
	fmt.Fprintln(w, "\nConfiguration summary:")
	fmt.Fprintf(w, "  Base URL: %s\n", redactURL(cfg.HTTP.BaseURL))
	fmt.Fprintf(w, "  Retry: %d attempts, %s to %s backoff\n", cfg.Retry.MaxAttempts, cfg.Retry.InitialDelay, cfg.Retry.MaxDelay)
	fmt.Fprintf(w, "  Rate limit: %d requests/minute (%s)\n", cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Mode)
	fmt.Fprintf(w, "  Checkpoints: %s\n", cfg.Checkpoint.Backend)
	fmt.Fprintf(w, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
