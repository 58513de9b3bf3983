// Package retry provides bounded exponential backoff for operations against
// remote infrastructure: cloud API calls, SSH dials, and node convergence runs.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds the backoff schedule for a Do call.
type Config struct {
	Attempts int           // total attempts, including the first
	Delay    time.Duration // wait before the second attempt
	MaxDelay time.Duration // cap applied to the growing delay
	Factor   float64       // delay multiplier between attempts
	Notify   func(attempt int, wait time.Duration, err error)
}

// Option customizes the backoff schedule.
type Option func(*Config)

// Do runs op until it succeeds, returns a fatal error, or the attempt budget
// is exhausted. The delay between attempts grows by Factor up to MaxDelay.
// Context cancellation is honored while waiting between attempts.
//
// Errors wrapped with Fatal stop the loop immediately; everything else is
// treated as transient.
func Do(ctx context.Context, op func() error, opts ...Option) error {
	cfg := &Config{
		Attempts: 6,
		Delay:    time.Second,
		MaxDelay: 30 * time.Second,
		Factor:   2.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}

	wait := cfg.Delay
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return fmt.Errorf("not retrying: %w", err)
		}
		if attempt == cfg.Attempts {
			break
		}

		if cfg.Notify != nil {
			cfg.Notify(attempt, wait, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(wait):
		}

		wait = time.Duration(float64(wait) * cfg.Factor)
		if wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", cfg.Attempts, lastErr)
}

// Attempts sets the total attempt budget, including the first try.
func Attempts(n int) Option {
	return func(c *Config) { c.Attempts = n }
}

// Delay sets the wait before the second attempt.
func Delay(d time.Duration) Option {
	return func(c *Config) { c.Delay = d }
}

// MaxDelay caps the growing delay between attempts.
func MaxDelay(d time.Duration) Option {
	return func(c *Config) { c.MaxDelay = d }
}

// Factor sets the delay multiplier between attempts.
func Factor(f float64) Option {
	return func(c *Config) { c.Factor = f }
}

// Notify registers a callback invoked before each backoff wait, carrying the
// failed attempt number, the upcoming wait, and the error. Used to surface
// retry activity to observers and metrics.
func Notify(fn func(attempt int, wait time.Duration, err error)) Option {
	return func(c *Config) { c.Notify = fn }
}

// FatalError marks an error as non-retryable. API rejections such as quota
// or permission failures are wrapped with Fatal so Do surfaces them at once
// instead of burning the attempt budget.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so Do will not retry it. Returns nil for a nil err.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
