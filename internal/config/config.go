// Package config provides configuration management for sybilscan.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/sybilscan/internal/chain"
	"github.com/mrz1836/sybilscan/internal/fileutil"
	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Home      string          `yaml:"home"`
	Etherscan EtherscanConfig `yaml:"etherscan"`
	Scan      ScanConfig      `yaml:"scan"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EtherscanConfig defines the block explorer connection.
type EtherscanConfig struct {
	BaseURL        string  `yaml:"base_url"`
	ChainID        string  `yaml:"chain_id"`
	APIKey         string  `yaml:"api_key"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// ScanConfig defines fetch and analysis settings.
type ScanConfig struct {
	PageSize          int    `yaml:"page_size"`
	StartBlock        uint64 `yaml:"start_block"`
	EndBlock          uint64 `yaml:"end_block"`
	MaxRetries        int    `yaml:"max_retries"`
	RateLimitRetries  int    `yaml:"rate_limit_retries"`
	BaseDelayMs       int    `yaml:"base_delay_ms"`
	MaxDelayMs        int    `yaml:"max_delay_ms"`
	Concurrency       int    `yaml:"concurrency"`
	SybilThreshold    int    `yaml:"sybil_threshold"`
	RunTimeoutSeconds int    `yaml:"run_timeout_seconds"`
}

// OutputConfig defines output formatting settings.
type OutputConfig struct {
	DefaultFormat string `yaml:"default_format"`
	Color         string `yaml:"color"`
	Verbose       bool   `yaml:"verbose"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from the specified file on top of Defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, scanerr.WithDetails(scanerr.ErrConfigNotFound, map[string]string{"path": path})
		}
		return nil, scanerr.WithCause(scanerr.ErrConfigInvalid, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, scanerr.WithDetails(scanerr.WithCause(scanerr.ErrConfigInvalid, err), map[string]string{"path": path})
	}

	return cfg, nil
}

// LoadOrDefault reads the config file if it exists and returns Defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, scanerr.ErrConfigNotFound) {
		return Defaults(), nil
	}
	return cfg, err
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fileutil.WriteAtomic(path, data, 0o600)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return scanerr.WithDetails(scanerr.WithCause(scanerr.ErrConfigInvalid, err), map[string]string{"path": path})
	}
	return nil
}

// Validate checks value ranges. It does not require an API key, since the key
// may still arrive from a flag.
func (c *Config) Validate() error {
	invalid := func(field, value, reason string) error {
		return scanerr.WithDetails(scanerr.ErrConfig, map[string]string{
			"field":  field,
			"value":  value,
			"reason": reason,
		})
	}

	switch {
	case c.Etherscan.BaseURL == "":
		return invalid("etherscan.base_url", "", "must not be empty")
	case c.Etherscan.ChainID == "":
		return invalid("etherscan.chain_id", "", "must not be empty")
	case c.Etherscan.RatePerSecond < 0:
		return invalid("etherscan.rate_per_second", strconv.FormatFloat(c.Etherscan.RatePerSecond, 'f', -1, 64), "must not be negative")
	case c.Etherscan.TimeoutSeconds < 0:
		return invalid("etherscan.timeout_seconds", strconv.Itoa(c.Etherscan.TimeoutSeconds), "must not be negative")
	case c.Scan.PageSize < 1 || c.Scan.PageSize > 10000:
		return invalid("scan.page_size", strconv.Itoa(c.Scan.PageSize), "must be between 1 and 10000")
	case c.Scan.EndBlock != 0 && c.Scan.StartBlock > c.Scan.EndBlock:
		return invalid("scan.start_block", strconv.FormatUint(c.Scan.StartBlock, 10), "must not exceed scan.end_block")
	case c.Scan.MaxRetries < 1:
		return invalid("scan.max_retries", strconv.Itoa(c.Scan.MaxRetries), "must be at least 1")
	case c.Scan.RateLimitRetries < 1:
		return invalid("scan.rate_limit_retries", strconv.Itoa(c.Scan.RateLimitRetries), "must be at least 1")
	case c.Scan.BaseDelayMs < 0 || c.Scan.MaxDelayMs < 0:
		return invalid("scan.base_delay_ms", strconv.Itoa(c.Scan.BaseDelayMs), "delays must not be negative")
	case c.Scan.Concurrency < 1:
		return invalid("scan.concurrency", strconv.Itoa(c.Scan.Concurrency), "must be at least 1")
	case c.Scan.SybilThreshold < 2:
		return invalid("scan.sybil_threshold", strconv.Itoa(c.Scan.SybilThreshold), "must be at least 2")
	case c.Scan.RunTimeoutSeconds < 0:
		return invalid("scan.run_timeout_seconds", strconv.Itoa(c.Scan.RunTimeoutSeconds), "must not be negative")
	}
	return nil
}

// BackoffPolicy builds the retry budgets from the scan settings.
// max_retries counts attempts for transient failures, rate_limit_retries for throttling.
func (c *Config) BackoffPolicy() chain.BackoffPolicy {
	base := time.Duration(c.Scan.BaseDelayMs) * time.Millisecond
	maxDelay := time.Duration(c.Scan.MaxDelayMs) * time.Millisecond
	return chain.BackoffPolicy{
		RateLimit: chain.RetryConfig{MaxAttempts: c.Scan.RateLimitRetries, BaseDelay: base, MaxDelay: maxDelay},
		Transient: chain.RetryConfig{MaxAttempts: c.Scan.MaxRetries, BaseDelay: base, MaxDelay: maxDelay},
	}
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Etherscan.TimeoutSeconds) * time.Second
}

// RunTimeout returns the whole-run timeout, zero when unbounded.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Scan.RunTimeoutSeconds) * time.Second
}

// MaskedAPIKey returns the API key with all but the last four characters hidden.
func (c *Config) MaskedAPIKey() string {
	key := c.Etherscan.APIKey
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// LogFile returns the log file path, defaulting to sybilscan.log in the home directory.
func (c *Config) LogFile() string {
	if c.Logging.File != "" {
		return ExpandHome(c.Logging.File)
	}
	return filepath.Join(ExpandHome(c.Home), "sybilscan.log")
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// DefaultHome returns the default sybilscan home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sybilscan"
	}
	return filepath.Join(home, ".sybilscan")
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
