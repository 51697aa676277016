package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// ErrRetryable marks an error as transient. Wrap with WrapRetryable.
var ErrRetryable = &scanerr.ScanError{
	Code:     "RETRYABLE_ERROR",
	Message:  "retryable error",
	ExitCode: scanerr.ExitGeneral,
}

// RetryKind classifies a failed attempt.
type RetryKind string

// Retry kinds.
const (
	KindRateLimit RetryKind = "rate_limit"
	KindTransient RetryKind = "transient"
	KindFatal     RetryKind = "fatal"
)

// RetryConfig configures retry behavior for one class of error.
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts (including initial)
	BaseDelay   time.Duration // Initial delay between retries
	MaxDelay    time.Duration // Maximum delay between retries
}

// DefaultRetryConfig returns the default retry configuration.
// 4 attempts total (1 initial + 3 retries) with delays: 1s, 2s, 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    4 * time.Second,
	}
}

// BackoffPolicy keeps separate budgets for throttling and transient failures,
// so a provider that throttles does not consume the budget for network hiccups.
type BackoffPolicy struct {
	RateLimit RetryConfig
	Transient RetryConfig
}

// DefaultBackoffPolicy returns 6 throttled attempts (1s doubling, capped at 16s)
// and 4 transient attempts (1s doubling, capped at 4s).
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		RateLimit: RetryConfig{
			MaxAttempts: 6,
			BaseDelay:   time.Second,
			MaxDelay:    16 * time.Second,
		},
		Transient: DefaultRetryConfig(),
	}
}

// RetryEvent describes a retry that is about to happen.
type RetryEvent struct {
	Kind    RetryKind
	Attempt int // 1-based count of failures of this kind so far
	Delay   time.Duration
	Err     error
}

// Retry executes the operation with exponential backoff retry.
// Uses default configuration: 4 attempts with delays 1s, 2s, 4s.
func Retry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}

// RetryWithConfig retries every retryable error (throttling included) under a single budget.
func RetryWithConfig[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	policy := BackoffPolicy{RateLimit: cfg, Transient: cfg}
	return RetryWithPolicy(ctx, policy, func(context.Context) (T, error) { return operation() }, nil)
}

// RetryWithPolicy executes the operation, classifying each failure with Classify.
// Throttling and transient failures draw on their own attempt budgets; fatal errors
// return immediately. onRetry may be nil.
func RetryWithPolicy[T any](ctx context.Context, policy BackoffPolicy, operation func(context.Context) (T, error), onRetry func(RetryEvent)) (T, error) {
	var (
		result     T
		err        error
		throttled  int
		transients int
	)

	for {
		result, err = operation(ctx)
		if err == nil {
			return result, nil
		}

		kind := Classify(ctx, err)

		var cfg RetryConfig
		var failures int
		switch kind {
		case KindRateLimit:
			throttled++
			failures, cfg = throttled, policy.RateLimit
		case KindTransient:
			transients++
			failures, cfg = transients, policy.Transient
		default:
			return result, err
		}

		if failures >= max(cfg.MaxAttempts, 1) {
			return result, fmt.Errorf("operation failed after %d %s attempts: %w", failures, kind, err)
		}

		delay := calculateDelay(failures-1, cfg.BaseDelay, cfg.MaxDelay)
		if onRetry != nil {
			onRetry(RetryEvent{Kind: kind, Attempt: failures, Delay: delay, Err: err})
		}

		if delay <= 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
}

// calculateDelay calculates the delay for the given attempt using exponential backoff with jitter.
// The result lies in [delay/2, delay) where delay = min(base*2^attempt, max).
func calculateDelay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := baseDelay * (1 << attempt) // 2^attempt * baseDelay
	if maxDelay > 0 && (delay > maxDelay || delay <= 0) {
		delay = maxDelay
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + rand.N(half) //nolint:gosec // G404: Jitter does not require cryptographic randomness
}

// Classify decides how a failed attempt should be retried.
// A context that is already done is always fatal.
func Classify(ctx context.Context, err error) RetryKind {
	if err == nil || ctx.Err() != nil {
		return KindFatal
	}

	if errors.Is(err, scanerr.ErrRateLimited) {
		return KindRateLimit
	}

	if IsRetryable(err) {
		return KindTransient
	}

	return KindFatal
}

// IsRetryable returns true if the error is a transient failure worth retrying.
// Throttling is handled separately by Classify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRetryable) ||
		errors.Is(err, scanerr.ErrNetwork) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WrapRetryable wraps an error to mark it as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
