// Package resilience provides the dial retry policy. Retrying lives at the
// caller boundary: a session never retries internally, a failed session is
// simply replaced by a new dial attempt.
package resilience

import (
	"context"
	"time"
)

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxAttempts       int           // Total attempts, including the first
	InitialBackoff    time.Duration // Backoff before the second attempt
	MaxBackoff        time.Duration // Cap on the backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func() error

// Retry executes fn up to config.MaxAttempts times with exponential backoff
// between attempts. It returns nil on the first success, the last error
// otherwise. Context cancellation cuts the backoff wait short and returns
// the context error.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return lastErr
}
