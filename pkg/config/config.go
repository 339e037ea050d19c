package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv
const EnvPrefix = "APIKIT_"

// Config holds all configuration options for apikit
type Config struct {
	// Target API
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Retry policy applied to every call
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Pagination limits
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`

	// Client-side throttling
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Where sync cursors are persisted
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Sync output settings
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// HTTPConfig describes the JSON API being called
type HTTPConfig struct {
	BaseURL       string            `yaml:"base_url" json:"base_url"`
	Timeout       time.Duration     `yaml:"timeout" json:"timeout"`
	UserAgent     string            `yaml:"user_agent" json:"user_agent"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	ItemsField    string            `yaml:"items_field" json:"items_field"`
	NextField     string            `yaml:"next_field" json:"next_field"`
	CursorParam   string            `yaml:"cursor_param" json:"cursor_param"`
	PageSizeParam string            `yaml:"page_size_param" json:"page_size_param"`
	// NextLink treats the next field as the full URL of the next page
	NextLink bool `yaml:"next_link" json:"next_link"`
	// AuthProfile names the stored token used for bearer auth
	AuthProfile string `yaml:"auth_profile" json:"auth_profile"`
}

// RetryConfig holds the retry policy
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

// PaginationConfig holds paging limits
type PaginationConfig struct {
	PageSize int `yaml:"page_size" json:"page_size"`
	MaxPages int `yaml:"max_pages" json:"max_pages"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerMinute of 0 disables client-side throttling
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
	// Mode is token_bucket or sliding_window; sliding_window ignores BurstSize
	Mode string `yaml:"mode" json:"mode"`
}

// CheckpointConfig selects the checkpoint backend
type CheckpointConfig struct {
	Backend   string `yaml:"backend" json:"backend"`
	Directory string `yaml:"directory" json:"directory"`
	RedisURL  string `yaml:"redis_url" json:"redis_url"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// SyncConfig holds harvester output settings
type SyncConfig struct {
	OutputFile  string `yaml:"output_file" json:"output_file"`
	Concurrency int    `yaml:"concurrency" json:"concurrency"`
	KeyField    string `yaml:"key_field" json:"key_field"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// Checkpoint backends
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Rate limit modes
const (
	RateLimitTokenBucket   = "token_bucket"
	RateLimitSlidingWindow = "sliding_window"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "apikit/1.0",
			ItemsField:    "items",
			NextField:     "nextPageToken",
			CursorParam:   "pageToken",
			PageSizeParam: "pageSize",
			AuthProfile:   "default",
		},
		Retry: RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			JitterFactor: 0.2,
		},
		Pagination: PaginationConfig{
			PageSize: 0,
			MaxPages: 100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
			Mode:              RateLimitTokenBucket,
		},
		Checkpoint: CheckpointConfig{
			Backend:   BackendFile,
			Directory: ".apikit/checkpoints",
			KeyPrefix: "apikit:checkpoint",
		},
		Sync: SyncConfig{
			OutputFile:  "items.jsonl",
			Concurrency: 4,
			KeyField:    "id",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from APIKIT_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	setString("BASE_URL", &c.HTTP.BaseURL)
	setDuration("TIMEOUT", &c.HTTP.Timeout)
	setString("USER_AGENT", &c.HTTP.UserAgent)
	setString("AUTH_PROFILE", &c.HTTP.AuthProfile)

	setInt("MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	setDuration("INITIAL_DELAY", &c.Retry.InitialDelay)
	setDuration("MAX_DELAY", &c.Retry.MaxDelay)
	if v := os.Getenv(EnvPrefix + "JITTER_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sJITTER_FACTOR: %w", EnvPrefix, err))
		} else {
			c.Retry.JitterFactor = f
		}
	}

	setInt("PAGE_SIZE", &c.Pagination.PageSize)
	setInt("MAX_PAGES", &c.Pagination.MaxPages)
	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setString("RATE_LIMIT_MODE", &c.RateLimit.Mode)

	setString("CHECKPOINT_BACKEND", &c.Checkpoint.Backend)
	setString("CHECKPOINT_DIR", &c.Checkpoint.Directory)
	setString("REDIS_URL", &c.Checkpoint.RedisURL)

	setString("OUTPUT_FILE", &c.Sync.OutputFile)
	setInt("CONCURRENCY", &c.Sync.Concurrency)

	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".apikit.yaml",
		".apikit.yml",
		filepath.Join(home, ".config", "apikit", "config.yaml"),
		filepath.Join(home, ".config", "apikit", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid and reports every problem
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.BaseURL != "" {
		u, err := url.Parse(c.HTTP.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("base URL %q must be an absolute URL", c.HTTP.BaseURL))
		}
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if !c.HTTP.NextLink && c.HTTP.CursorParam == "" {
		errs = append(errs, errors.New("cursor param is required unless next_link is set"))
	}
	if c.HTTP.NextField == "" {
		errs = append(errs, errors.New("next field is required"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if c.Retry.InitialDelay <= 0 {
		errs = append(errs, errors.New("retry initial delay must be positive"))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("retry max delay must not be less than initial delay"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.Pagination.PageSize < 0 {
		errs = append(errs, errors.New("page size cannot be negative"))
	}
	if c.Pagination.MaxPages <= 0 {
		errs = append(errs, errors.New("max pages must be positive"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	switch strings.ToLower(c.RateLimit.Mode) {
	case "", RateLimitTokenBucket:
		if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
			errs = append(errs, errors.New("burst size must be positive"))
		}
	case RateLimitSlidingWindow:
	default:
		errs = append(errs, fmt.Errorf("invalid rate limit mode %q", c.RateLimit.Mode))
	}

	switch strings.ToLower(c.Checkpoint.Backend) {
	case BackendFile:
		if c.Checkpoint.Directory == "" {
			errs = append(errs, errors.New("checkpoint directory is required for the file backend"))
		}
	case BackendRedis:
		if c.Checkpoint.RedisURL == "" {
			errs = append(errs, errors.New("redis URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid checkpoint backend %q", c.Checkpoint.Backend))
	}

	if c.Sync.Concurrency <= 0 {
		errs = append(errs, errors.New("sync concurrency must be positive"))
	}
	if c.Sync.Concurrency > 32 {
		errs = append(errs, errors.New("sync concurrency should not exceed 32"))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Zero values are treated as "not set".
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["base-url"].(string); ok && v != "" {
		c.HTTP.BaseURL = v
	}
	if v, ok := flags["profile"].(string); ok && v != "" {
		c.HTTP.AuthProfile = v
	}
	if v, ok := flags["max-attempts"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["page-size"].(int); ok && v > 0 {
		c.Pagination.PageSize = v
	}
	if v, ok := flags["max-pages"].(int); ok && v > 0 {
		c.Pagination.MaxPages = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Sync.OutputFile = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Sync.Concurrency = v
	}
	if v, ok := flags["checkpoint-backend"].(string); ok && v != "" {
		c.Checkpoint.Backend = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Missing .env files are fine
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".apikit.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
