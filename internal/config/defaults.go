package config

import "github.com/mrz1836/sybilscan/internal/chain/eth/etherscan"

// Defaults returns the default configuration.
// Limits match the Etherscan free tier.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.sybilscan",
		Etherscan: EtherscanConfig{
			BaseURL:        etherscan.DefaultBaseURL,
			ChainID:        etherscan.DefaultChainID,
			RatePerSecond:  5,
			Burst:          5,
			TimeoutSeconds: 30,
		},
		Scan: ScanConfig{
			PageSize:          etherscan.DefaultPageSize,
			MaxRetries:        4,
			RateLimitRetries:  6,
			BaseDelayMs:       1000,
			MaxDelayMs:        16000,
			Concurrency:       1,
			SybilThreshold:    2,
			RunTimeoutSeconds: 0, // unbounded
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
			Color:         "auto",
			Verbose:       false,
		},
		Logging: LoggingConfig{
			Level: "error",
			File:  "", // <home>/sybilscan.log
		},
	}
}
