// Package retry runs an operation under a bounded exponential backoff.
//
// Every external call made by the proof verifiers (RPC, DNS, GitHub) goes
// through Do so a slow or unreachable system cannot stall a check pass: each
// attempt gets its own timeout, the number of attempts is capped, and the
// delay between attempts never exceeds MaxInterval.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retried operation.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

// DefaultPolicy is three attempts, 250ms doubling to at most 2s, 5s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		AttemptTimeout:  5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	return p
}

// Do runs op until it succeeds, returns an error that retryable rejects, the
// attempt budget is spent, or ctx is done. The last error is returned.
// A nil retryable treats every error as retryable.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
