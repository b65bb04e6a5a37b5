package api

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy is a bounded fixed-interval retry with jitter and a hard
// deadline. It is independent of the transport: callers decide per error
// whether to keep going (see IsTransient).
type RetryPolicy struct {
	Interval    time.Duration
	MaxDuration time.Duration
	Jitter      time.Duration
}

func DefaultLinkPolicy() RetryPolicy {
	return RetryPolicy{
		Interval:    2 * time.Second,
		MaxDuration: 120 * time.Second,
		Jitter:      500 * time.Millisecond,
	}
}

// ErrDeadline marks the policy's hard deadline, distinct from ctx cancellation.
type deadlineError struct{}

func (deadlineError) Error() string { return "api: retry deadline elapsed" }

var ErrDeadline error = deadlineError{}

// Run invokes fn until it reports done, returns a non-retryable error, or the
// deadline elapses. Pacing uses a rate limiter so bursts of immediate errors
// cannot turn into a tight loop.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	deadline := time.Now().Add(p.MaxDuration)
	lim := rate.NewLimiter(rate.Every(p.Interval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if p.Jitter > 0 {
			select {
			case <-time.After(time.Duration(rand.Int63n(int64(p.Jitter)))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done, err := fn(ctx)
		if done || (err != nil && !IsTransient(err)) {
			return err
		}
		if time.Now().After(deadline) {
			return ErrDeadline
		}
	}
}
