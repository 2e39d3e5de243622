// Package config loads, normalizes and validates the YAML configuration
// described in SPEC_FULL.md §6 and §10: connection, rate limit, retry,
// validation, failure-handling, logging and dashboard settings, with an
// environment-overlay pass applied once at construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig describes the market-data gateway endpoint.
type ConnectionConfig struct {
	Host                  string        `yaml:"host"`
	Port                  int           `yaml:"port"`
	ClientID              int           `yaml:"client_id"`
	Timeout               time.Duration `yaml:"timeout"`
	ReconnectionAttempts  int           `yaml:"reconnection_attempts"`
}

// RateLimitConfig controls the Fetcher's wait between outbound requests.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Window            time.Duration `yaml:"window"`
}

// RetryConfig controls the Fetcher's bounded-retry inner loop.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	WaitSeconds time.Duration `yaml:"wait_seconds"`
}

// ExpectedBarsConfig is the Calendar Adapter's bar-count table.
type ExpectedBarsConfig struct {
	RegularDay int   `yaml:"regular_day"`
	EarlyClose []int `yaml:"early_close"`
	Holiday    int   `yaml:"holiday"`
}

// ValidationConfig wraps ExpectedBarsConfig.
type ValidationConfig struct {
	ExpectedBars ExpectedBarsConfig `yaml:"expected_bars"`
}

// FailureHandlingConfig controls the Smart Retry Manager's thresholds.
type FailureHandlingConfig struct {
	MaxConsecutiveNoDataDays int `yaml:"max_consecutive_no_data_days"`
	MaxRetriesPerDate        int `yaml:"max_retries_per_date"`
}

// LoggingConfig controls the structured logger and its rotating sink.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	BackupCount int    `yaml:"backup_count"`
}

// DashboardConfig controls the read-only status HTTP surface. Enabled is a
// pointer so IsEnabled can treat an absent key as true without also treating
// an explicit `enabled: false` in the file as "unset" (SPEC_FULL.md §6: "on by
// default, disabled entirely when dashboard.enabled: false").
type DashboardConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	BindAddr string `yaml:"bind_addr"`
}

// IsEnabled reports whether the dashboard should be started.
func (d DashboardConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Config is the root configuration value, constructed once at startup and
// injected into every component (SPEC_FULL.md §9, "global singleton
// config" replaced by an explicit value).
type Config struct {
	Environment      string                `yaml:"environment"`
	DataDir          string                `yaml:"data_dir"`
	LogDir           string                `yaml:"log_dir"`
	TickerFile       string                `yaml:"ticker_file"`
	ProgressInterval time.Duration         `yaml:"progress_interval"`
	Connection       ConnectionConfig      `yaml:"connection"`
	RateLimit        RateLimitConfig       `yaml:"rate_limit"`
	Retry            RetryConfig          `yaml:"retry"`
	Validation       ValidationConfig      `yaml:"validation"`
	FailureHandling  FailureHandlingConfig `yaml:"failure_handling"`
	Logging          LoggingConfig         `yaml:"logging"`
	Dashboard        DashboardConfig       `yaml:"dashboard"`
}

// Load reads the base settings file, overlays an environment-specific file
// if present alongside it (settings-{env}.yaml), expands ${VAR} references
// against the process environment, decodes strictly (unknown keys are an
// error), then normalizes and validates the result.
func Load(path, env string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if env != "" {
		overlayPath := filepath.Join(filepath.Dir(path), fmt.Sprintf("settings-%s.yaml", env))
		if _, statErr := os.Stat(overlayPath); statErr == nil {
			overlay, err := decodeFile(overlayPath)
			if err != nil {
				return nil, err
			}
			mergeOverlay(cfg, overlay)
		}
	}

	applyEnvOverlay(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeOverlay copies every non-zero field the environment file sets on top
// of the base config. A real deep-merge library was considered and
// rejected: the field set is small and fixed, and yaml.v3 has no built-in
// merge semantics across two already-decoded structs.
func mergeOverlay(base, overlay *Config) {
	if overlay.Environment != "" {
		base.Environment = overlay.Environment
	}
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.LogDir != "" {
		base.LogDir = overlay.LogDir
	}
	if overlay.TickerFile != "" {
		base.TickerFile = overlay.TickerFile
	}
	if overlay.ProgressInterval != 0 {
		base.ProgressInterval = overlay.ProgressInterval
	}
	if overlay.Connection.Host != "" {
		base.Connection.Host = overlay.Connection.Host
	}
	if overlay.Connection.Port != 0 {
		base.Connection.Port = overlay.Connection.Port
	}
	if overlay.Connection.ClientID != 0 {
		base.Connection.ClientID = overlay.Connection.ClientID
	}
	if overlay.Connection.Timeout != 0 {
		base.Connection.Timeout = overlay.Connection.Timeout
	}
	if overlay.Connection.ReconnectionAttempts != 0 {
		base.Connection.ReconnectionAttempts = overlay.Connection.ReconnectionAttempts
	}
	if overlay.RateLimit.RequestsPerSecond != 0 {
		base.RateLimit.RequestsPerSecond = overlay.RateLimit.RequestsPerSecond
	}
	if overlay.Retry.MaxAttempts != 0 {
		base.Retry.MaxAttempts = overlay.Retry.MaxAttempts
	}
	if overlay.Retry.WaitSeconds != 0 {
		base.Retry.WaitSeconds = overlay.Retry.WaitSeconds
	}
	if overlay.FailureHandling.MaxConsecutiveNoDataDays != 0 {
		base.FailureHandling.MaxConsecutiveNoDataDays = overlay.FailureHandling.MaxConsecutiveNoDataDays
	}
	if overlay.FailureHandling.MaxRetriesPerDate != 0 {
		base.FailureHandling.MaxRetriesPerDate = overlay.FailureHandling.MaxRetriesPerDate
	}
	if overlay.Validation.ExpectedBars.RegularDay != 0 {
		base.Validation.ExpectedBars.RegularDay = overlay.Validation.ExpectedBars.RegularDay
	}
	if len(overlay.Validation.ExpectedBars.EarlyClose) != 0 {
		base.Validation.ExpectedBars.EarlyClose = overlay.Validation.ExpectedBars.EarlyClose
	}
	if overlay.Validation.ExpectedBars.Holiday != 0 {
		base.Validation.ExpectedBars.Holiday = overlay.Validation.ExpectedBars.Holiday
	}
	if overlay.Logging.Level != "" {
		base.Logging.Level = overlay.Logging.Level
	}
	if overlay.Logging.MaxSizeMB != 0 {
		base.Logging.MaxSizeMB = overlay.Logging.MaxSizeMB
	}
	if overlay.Logging.BackupCount != 0 {
		base.Logging.BackupCount = overlay.Logging.BackupCount
	}
	if overlay.Dashboard.BindAddr != "" {
		base.Dashboard.BindAddr = overlay.Dashboard.BindAddr
	}
	if overlay.Dashboard.Enabled != nil {
		base.Dashboard.Enabled = overlay.Dashboard.Enabled
	}
}

func applyEnvOverlay(cfg *Config) {
	if v := firstNonEmpty(os.Getenv("IBD_ENVIRONMENT"), os.Getenv("ENVIRONMENT")); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("IBD_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v := os.Getenv("IBD_PORT"); v != "" {
		if port, err := parseInt(v); err == nil {
			cfg.Connection.Port = port
		}
	}
	if v := os.Getenv("IBD_CLIENT_ID"); v != "" {
		if id, err := parseInt(v); err == nil {
			cfg.Connection.ClientID = id
		}
	}
	if v := os.Getenv("IBD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Normalize fills zero-valued fields with defaults matching
// original_source/core/fetcher.py and smart_retry_manager.py.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.TickerFile == "" {
		c.TickerFile = "config/tickers.csv"
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 30 * time.Second
	}
	if c.Connection.Timeout == 0 {
		c.Connection.Timeout = 10 * time.Second
	}
	if c.Connection.ReconnectionAttempts == 0 {
		c.Connection.ReconnectionAttempts = 3
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.Window = 10 * time.Second
	} else {
		c.RateLimit.Window = time.Duration(float64(time.Second) / c.RateLimit.RequestsPerSecond)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.WaitSeconds == 0 {
		c.Retry.WaitSeconds = 5 * time.Second
	}
	if c.Validation.ExpectedBars.RegularDay == 0 {
		c.Validation.ExpectedBars.RegularDay = 390
	}
	if len(c.Validation.ExpectedBars.EarlyClose) == 0 {
		c.Validation.ExpectedBars.EarlyClose = []int{360, 210}
	}
	if c.FailureHandling.MaxConsecutiveNoDataDays == 0 {
		c.FailureHandling.MaxConsecutiveNoDataDays = 10
	}
	if c.FailureHandling.MaxRetriesPerDate == 0 {
		c.FailureHandling.MaxRetriesPerDate = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.BackupCount == 0 {
		c.Logging.BackupCount = 5
	}
	if c.Dashboard.BindAddr == "" {
		c.Dashboard.BindAddr = "127.0.0.1:8990"
	}
}

// Validate rejects configurations that would otherwise fail confusingly
// deep inside a component.
func (c *Config) Validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("config: connection.host is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("config: connection.port must be in (0, 65535], got %d", c.Connection.Port)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("config: rate_limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("config: retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.WaitSeconds <= 0 {
		return fmt.Errorf("config: retry.wait_seconds must be positive, got %s", c.Retry.WaitSeconds)
	}
	if c.Validation.ExpectedBars.RegularDay <= 0 {
		return fmt.Errorf("config: validation.expected_bars.regular_day must be positive")
	}
	if c.FailureHandling.MaxConsecutiveNoDataDays <= 0 {
		return fmt.Errorf("config: failure_handling.max_consecutive_no_data_days must be positive")
	}
	if c.FailureHandling.MaxRetriesPerDate <= 0 {
		return fmt.Errorf("config: failure_handling.max_retries_per_date must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	return nil
}

// IsProd reports whether the configured environment is production.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
