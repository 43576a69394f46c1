package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent wraps an error that must not be retried. Use [Permanent] to
// mark one.
var ErrPermanent = errors.New("permanent error")

// Permanent marks err as non-retryable for [Retry].
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// RetryConfig controls the exponential backoff performed by [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// InitialDelay is the backoff before the second attempt. Each subsequent
	// delay doubles. Default: 500ms.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth. Default: 10s.
	MaxDelay time.Duration
}

// Retry runs fn until it succeeds, returns a permanent error, the attempt
// budget is exhausted, or ctx is cancelled. The last error is returned.
//
// Cancellation is checked both before each attempt and during the backoff
// sleep, so a cancelled caller never waits out a delay.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return lastErr
}
