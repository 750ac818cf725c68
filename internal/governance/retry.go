// Package governance provides retry and circuit-breaking primitives used to
// guard calls to external collaborators (feed source, action handlers).
package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExceeded is returned when all retry attempts have been
// exhausted. The last underlying error is wrapped alongside it.
var ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")

// RetryConfig defines retry behavior for handler and feed calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first
	// (1 = no retries).
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64
	// Jitter adds randomness to backoff to prevent thundering herd.
	Jitter bool
}

// DefaultRetryConfig returns sensible defaults for action execution.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryPolicy executes functions with bounded exponential backoff.
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling in defaults for zero fields.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	return &RetryPolicy{config: config}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// Backoff returns the delay before the retry following the given attempt
// (0-based).
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt)))
	if backoff > rp.config.MaxBackoff {
		backoff = rp.config.MaxBackoff
	}
	if rp.config.Jitter && backoff > 0 {
		// Up to 25% extra, non-cryptographic randomness is fine here.
		// #nosec G404
		backoff += time.Duration(rand.Int63n(int64(backoff/4) + 1))
	}
	return backoff
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or the
// context is canceled. onRetry, when non-nil, is invoked before each backoff
// sleep with the 1-based attempt number and the failure.
func (rp *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var lastErr error

	for attempt := 1; attempt <= rp.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == rp.config.MaxAttempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt, lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rp.Backoff(attempt - 1)):
		}
	}

	return fmt.Errorf("%w: %v", ErrMaxAttemptsExceeded, lastErr)
}
