// Package errors provides structured error handling for sybilscan.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess  = 0 // Successful execution, including runs with per-wallet fetch failures
	ExitGeneral  = 1 // General/unknown error
	ExitInput    = 2 // Invalid input or configuration
	ExitAuth     = 3 // Missing or rejected API credentials
	ExitNotFound = 4 // Input file not found
)

// ScanError is the structured error type for sybilscan.
type ScanError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *ScanError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for ScanError.
func (e *ScanError) Is(target error) bool {
	var t *ScanError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &ScanError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &ScanError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	// Configuration errors are fatal and abort the run before any network call.
	ErrConfig = &ScanError{
		Code:     "CONFIG_ERROR",
		Message:  "invalid configuration",
		ExitCode: ExitInput,
	}

	ErrAPIKeyRequired = &ScanError{
		Code:       "API_KEY_REQUIRED",
		Message:    "Etherscan API key is required",
		Suggestion: "Pass --api-key, set ETHERSCAN_API_KEY, or set etherscan.api_key in config.yaml",
		ExitCode:   ExitAuth,
	}

	ErrWatchlistNotFound = &ScanError{
		Code:     "WATCHLIST_NOT_FOUND",
		Message:  "wallet list file not found",
		ExitCode: ExitNotFound,
	}

	ErrEmptyWatchlist = &ScanError{
		Code:     "EMPTY_WATCHLIST",
		Message:  "wallet list contains no valid addresses",
		ExitCode: ExitInput,
	}

	ErrInvalidAddress = &ScanError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	// Explorer errors are recorded per wallet and never abort the batch.
	ErrAPI = &ScanError{
		Code:     "API_ERROR",
		Message:  "block explorer returned an error",
		ExitCode: ExitGeneral,
	}

	ErrRateLimited = &ScanError{
		Code:       "RATE_LIMITED",
		Message:    "block explorer rate limit exceeded",
		Suggestion: "Lower etherscan.rate_per_second or raise scan.rate_limit_retries",
		ExitCode:   ExitGeneral,
	}

	ErrNetwork = &ScanError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrMalformedRecord = &ScanError{
		Code:     "MALFORMED_RECORD",
		Message:  "transaction record is missing required fields",
		ExitCode: ExitGeneral,
	}

	ErrConfigNotFound = &ScanError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &ScanError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrReportWrite = &ScanError{
		Code:     "REPORT_WRITE_FAILED",
		Message:  "failed to write report",
		ExitCode: ExitGeneral,
	}
)

// New creates a new ScanError with the given code and message.
func New(code, message string) *ScanError {
	return &ScanError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var se *ScanError
	if errors.As(err, &se) {
		return &ScanError{
			Code:       se.Code,
			Message:    fmt.Sprintf("%s: %s", msg, se.Message),
			Details:    se.Details,
			Suggestion: se.Suggestion,
			Cause:      err,
			ExitCode:   se.ExitCode,
		}
	}

	return &ScanError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var se *ScanError
	if errors.As(err, &se) {
		return &ScanError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    details,
			Suggestion: se.Suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &ScanError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause returns a copy of a sentinel with the underlying cause attached.
func WithCause(sentinel *ScanError, cause error) error {
	return &ScanError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    sentinel.Details,
		Suggestion: sentinel.Suggestion,
		Cause:      cause,
		ExitCode:   sentinel.ExitCode,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var se *ScanError
	if errors.As(err, &se) {
		return &ScanError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &ScanError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var se *ScanError
	if errors.As(err, &se) {
		return se.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
