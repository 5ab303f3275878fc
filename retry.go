package auth

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds a retried operation to MaxAttempts tries spaced by Delay.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	// NewTimer overrides the timer used between attempts, one per Do call.
	NewTimer func() backoff.Timer
}

// DefaultProfileRetryPolicy is the resolver schedule: three reads one second apart.
func DefaultProfileRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Second,
	}
}

// RetryNotify is called before each wait with the failed attempt number.
type RetryNotify func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, attempts run
// out, or ctx ends. It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error, notify RetryNotify) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(p.MaxAttempts-1)),
		ctx,
	)

	attempts := 0
	err := backoff.RetryNotifyWithTimer(func() error {
		attempts++
		return op(ctx, attempts)
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempts, wait)
		}
	}, timer)

	return attempts, err
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
