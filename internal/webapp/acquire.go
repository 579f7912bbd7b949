package webapp

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/Proton-105/himera-analytics/internal/errors"
)

// ErrHostUnavailable is returned when the host bridge never appears within the wait window.
var ErrHostUnavailable = errors.New("host bridge unavailable")

var errHostNotInjected = errors.New("host bridge not injected yet")

// PollPolicy bounds how long Acquire waits for the host to be injected.
type PollPolicy struct {
	Backoff apperrors.Backoff
	MaxWait time.Duration
}

// DefaultPollPolicy polls from 100ms up to 1s between checks for at most 5 seconds.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Backoff: apperrors.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2,
		},
		MaxWait: 5 * time.Second,
	}
}

// Acquire polls locate with backoff until it yields a host or the policy's wait window
// (or ctx) ends. It never blocks past MaxWait.
func Acquire(ctx context.Context, locate Locator, policy PollPolicy) (Host, error) {
	if locate == nil {
		return nil, ErrHostUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if policy.MaxWait <= 0 {
		policy.MaxWait = DefaultPollPolicy().MaxWait
	}

	ctx, cancel := context.WithTimeout(ctx, policy.MaxWait)
	defer cancel()

	var host Host
	err := apperrors.WithRetry(ctx, policy.Backoff, func() error {
		host = locate()
		if host == nil {
			return apperrors.Retryable(errHostNotInjected)
		}
		return nil
	})
	if err != nil || host == nil {
		return nil, ErrHostUnavailable
	}

	return host, nil
}
