package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Page sizes used for history endpoints. Account log accepts up to 100000
// but 5000 keeps the rate-limit cost per request low during backfills.
const (
	DefaultPageSize  = 500
	BackfillPageSize = 5000
)

// DefaultBaseURL is the Kraken Futures REST host.
const DefaultBaseURL = "https://futures.kraken.com"

// Credentials holds API authentication credentials.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" yaml:"api_key"`
	// SecretKey is the base64-encoded private key used for signing requests.
	SecretKey string `json:"-" yaml:"api_secret"`
}

// SinkConfig selects and configures the destination store.
type SinkConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"oneof=sqlite postgres memory"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN      string `json:"dsn" yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxConns int    `json:"max_conns" yaml:"max_conns" validate:"min=0"`
}

// LogConfig controls log level, format and destination.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	// Output is "stdout", "stderr" or a file path rotated by size.
	Output     string `json:"output" yaml:"output"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" validate:"min=0"`
}

// Config contains every option of an extraction run.
type Config struct {
	BaseURL     string       `json:"base_url" yaml:"base_url" validate:"required,url"`
	Credentials *Credentials `json:"credentials,omitempty" yaml:"credentials"`

	// Timeout is the maximum duration for one HTTP attempt.
	Timeout       time.Duration `json:"timeout" yaml:"timeout" validate:"min=1ms"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries" validate:"min=0"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay" validate:"min=0"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor" validate:"gte=1"`
	JitterRatio   float64       `json:"jitter_ratio" yaml:"jitter_ratio" validate:"gte=0,lte=1"`
	// MinRequestInterval is slept after every successful request.
	MinRequestInterval time.Duration `json:"min_request_interval" yaml:"min_request_interval" validate:"min=0"`

	// RateLimitRequests per RateLimitPeriod is shared by all resources of a
	// run. Zero disables the budget.
	RateLimitRequests int           `json:"rate_limit_requests" yaml:"rate_limit_requests" validate:"min=0"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" yaml:"rate_limit_period" validate:"min=0"`

	PageSize       int      `json:"page_size" yaml:"page_size" validate:"min=1"`
	StartTimestamp string   `json:"start_timestamp,omitempty" yaml:"start_timestamp"`
	Resources      []string `json:"resources,omitempty" yaml:"resources" validate:"dive,oneof=executions account_log position_history tickers open_positions"`
	DevMode        bool     `json:"dev_mode" yaml:"dev_mode"`
	Strict         bool     `json:"strict" yaml:"strict"`
	Parallelism    int      `json:"parallelism" yaml:"parallelism" validate:"min=1"`
	BatchSize      int      `json:"batch_size" yaml:"batch_size" validate:"min=1"`

	Sink SinkConfig `json:"sink" yaml:"sink"`
	Log  LogConfig  `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config initialized with defaults matching the
// exchange's documented limits: 30s timeout, 3 retries starting at 2s with
// factor 2 and 10% jitter, 0.5s pause between successful requests.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            DefaultBaseURL,
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		InitialDelay:       2 * time.Second,
		BackoffFactor:      2.0,
		JitterRatio:        0.1,
		MinRequestInterval: 500 * time.Millisecond,

		PageSize:    DefaultPageSize,
		Parallelism: 1,
		BatchSize:   1000,

		Sink: SinkConfig{
			Driver: "sqlite",
			DSN:    "krakensync.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.RateLimitRequests > 0 && c.RateLimitPeriod <= 0 {
		return fmt.Errorf("%w: rate_limit_period must be positive when rate_limit_requests is set", ErrInvalidConfig)
	}
	if _, err := ParseResources(c.Resources); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HasCredentials reports whether both key and secret are present.
func (c *Config) HasCredentials() bool {
	return c.Credentials != nil && c.Credentials.APIKey != "" && c.Credentials.SecretKey != ""
}

// LoadConfig reads a YAML file over DefaultConfig. A missing file is not an
// error when allowMissing is true.
func LoadConfig(path string, allowMissing bool) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithPageSize sets the history page size and returns the config for chaining.
func (c *Config) WithPageSize(size int) *Config {
	c.PageSize = size
	return c
}

// WithResources restricts the run to the named resources.
func (c *Config) WithResources(names ...string) *Config {
	c.Resources = names
	return c
}

// WithRetry sets the retry schedule and returns the config for chaining.
func (c *Config) WithRetry(maxRetries int, initialDelay time.Duration, factor, jitter float64) *Config {
	c.MaxRetries = maxRetries
	c.InitialDelay = initialDelay
	c.BackoffFactor = factor
	c.JitterRatio = jitter
	return c
}
