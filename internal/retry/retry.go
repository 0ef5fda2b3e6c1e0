// Package retry implements exponential backoff with jitter for transient
// network failures.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	JitterFactor float64
}

var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	Multiplier:   2.0,
	JitterFactor: 0.1,
}

// Do runs fn until it succeeds, the attempts are exhausted, or the
// context is cancelled.
func Do(ctx context.Context, fn func() error) error {
	_, err := WithResultConfig(ctx, DefaultConfig, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// WithResult is Do for functions returning a value.
func WithResult[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return WithResultConfig(ctx, DefaultConfig, fn)
}

func WithResultConfig[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts || !IsRetryable(err) {
			break
		}

		jitter := time.Duration(float64(delay) * cfg.JitterFactor * (rand.Float64()*2 - 1))
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}

	return result, lastErr
}

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks an error as permanent so the retry loop stops
// immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

func IsRetryable(err error) bool {
	var nre *nonRetryableError
	return !errors.As(err, &nre)
}
