package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// Environment variable names.
const (
	EnvHome            = "SYBILSCAN_HOME"
	EnvAPIKey          = "SYBILSCAN_ETHERSCAN_API_KEY" // #nosec G101 -- false positive, this is a const name not a credential
	EnvEtherscanAPIKey = "ETHERSCAN_API_KEY"           // #nosec G101 -- false positive, this is a const name not a credential
	EnvEtherscanURL    = "SYBILSCAN_ETHERSCAN_URL"
	EnvChainID         = "SYBILSCAN_CHAIN_ID"
	EnvOutputFormat    = "SYBILSCAN_OUTPUT_FORMAT"
	EnvVerbose         = "SYBILSCAN_VERBOSE"
	EnvLogLevel        = "SYBILSCAN_LOG_LEVEL"
	EnvConcurrency     = "SYBILSCAN_CONCURRENCY"
	EnvNoColor         = "NO_COLOR"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
// SYBILSCAN_ETHERSCAN_API_KEY wins over the conventional ETHERSCAN_API_KEY.
//
//nolint:gocognit,gocyclo // Environment variable overrides require sequential checks
func ApplyEnvironment(cfg *Config) error {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvEtherscanAPIKey); v != "" {
		cfg.Etherscan.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Etherscan.APIKey = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvEtherscanURL); v != "" {
		u, err := NormalizeURL(v)
		if err != nil {
			return err
		}
		cfg.Etherscan.BaseURL = u
	}

	if v := os.Getenv(EnvChainID); v != "" {
		cfg.Etherscan.ChainID = strings.TrimSpace(v)
	}

	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 1 {
			return scanerr.WithDetails(scanerr.ErrConfig, map[string]string{
				"env":   EnvConcurrency,
				"value": v,
			})
		}
		cfg.Scan.Concurrency = n
	}

	// NO_COLOR disables colored output
	if _, ok := os.LookupEnv(EnvNoColor); ok {
		cfg.Output.Color = "never"
	}

	return nil
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}

// NormalizeURL trims whitespace and trailing slashes from an API base URL and
// checks that it is an absolute http(s) URL.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", scanerr.WithDetails(scanerr.ErrConfig, map[string]string{
			"url":    raw,
			"reason": fmt.Sprintf("expected an absolute http(s) URL, got %q", s),
		})
	}
	return s, nil
}
