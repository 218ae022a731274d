// Package retry provides bounded retry with optional backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts, including the first
	InitialWait time.Duration // Wait before the second attempt
	MaxWait     time.Duration // Upper bound for a single wait
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)

	// BeforeRetry runs before every attempt after the first. An error aborts
	// the loop and is returned as-is.
	BeforeRetry func(ctx context.Context, attempt int, lastErr error) error
}

// Once returns a config that retries a single time without waiting.
func Once(before func(ctx context.Context, attempt int, lastErr error) error) Config {
	return Config{MaxAttempts: 2, BeforeRetry: before}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Unwrap strips the retryable marker, if present.
func Unwrap(err error) error {
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Err
	}
	return err
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts run out. The last error is returned without its retryable marker.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, cfg, attempt); err != nil {
				return zero, err
			}
			if cfg.BeforeRetry != nil {
				if err := cfg.BeforeRetry(ctx, attempt, lastErr); err != nil {
					return zero, err
				}
			}
		}

		r, err := fn(ctx, attempt)
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
	}

	return zero, Unwrap(lastErr)
}

func wait(ctx context.Context, cfg Config, attempt int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cfg.InitialWait <= 0 {
		return nil
	}

	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	d := float64(cfg.InitialWait) * math.Pow(multiplier, float64(attempt-2))
	if cfg.MaxWait > 0 && d > float64(cfg.MaxWait) {
		d = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(d)):
		return nil
	}
}
