package errors

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	DefaultInitialBackoff    = 100 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Backoff describes an exponential retry schedule. MaxAttempts of zero means the
// caller's context is the only bound.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff returns the schedule used when callers do not configure one.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    DefaultInitialBackoff,
		Max:        DefaultMaxBackoff,
		Multiplier: DefaultBackoffMultiplier,
	}
}

// Duration returns the delay before the given attempt (1-based).
func (b Backoff) Duration(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	backoff := time.Duration(delay)
	if b.Max > 0 && backoff > b.Max {
		return b.Max
	}

	return backoff
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error, runs out of
// attempts, or ctx is done. The last error from fn is returned when ctx expires.
func WithRetry(ctx context.Context, b Backoff, fn func() error) error {
	if fn == nil {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return err
		}

		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			return err
		}

		timer := time.NewTimer(b.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as safe to retry.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked retryableError
	if errors.As(err, &marked) {
		return true
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}

	return false
}
