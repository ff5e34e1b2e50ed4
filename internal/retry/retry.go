// Package retry provides a small exponential-backoff helper used by the
// download scheduler to retry a piece fetch on another session after a
// transient failure.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Operation is a unit of retryable work. Each call may target a
// different underlying session; the scheduler supplies that via a
// closure, not via this package.
type Operation func(ctx context.Context) error

// Config controls attempt count and inter-attempt delay.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, nextDelay time.Duration)
	RetryIf      func(err error) bool
}

type Option func(*Config)

// DefaultConfig retries up to 3 times with a short exponential backoff,
// suited to retrying a piece fetch against the next surviving session
// rather than waiting out a long outage.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

func WithMaxAttempts(n int) Option { return func(c *Config) { c.MaxAttempts = n } }

func WithInitialDelay(d time.Duration) Option { return func(c *Config) { c.InitialDelay = d } }

func WithMaxDelay(d time.Duration) Option { return func(c *Config) { c.MaxDelay = d } }

func WithOnRetry(cb func(attempt int, err error, nextDelay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = cb }
}

func WithRetryIf(predicate func(err error) bool) Option {
	return func(c *Config) { c.RetryIf = predicate }
}

// Do runs op up to cfg.MaxAttempts times, backing off exponentially
// between attempts. It returns the last error if every attempt fails,
// or immediately if RetryIf rejects an error as unretryable.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled before attempt %d: %w", attempt, err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during retry wait (attempt %d): %w (last error: %v)", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return lastErr
}

func calculateDelay(attempt int, cfg *Config) time.Duration {
	delay := math.Min(
		float64(cfg.MaxDelay),
		float64(cfg.InitialDelay)*math.Pow(cfg.Multiplier, float64(attempt-1)),
	)
	return time.Duration(delay)
}
