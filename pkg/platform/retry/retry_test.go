package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		AttemptTimeout:  time.Second,
	}
}

func TestDo(t *testing.T) {
	t.Run("returns nil on first success", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient errors up to the attempt budget", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("recovers when a later attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(3), nil, func(context.Context) error {
			calls++
			if calls < 2 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("non-retryable errors short-circuit", func(t *testing.T) {
		permanent := errors.New("record absent")
		calls := 0
		err := Do(context.Background(), fastPolicy(5), func(err error) bool {
			return errors.Is(err, errTransient)
		}, func(context.Context) error {
			calls++
			return permanent
		})
		require.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("each attempt carries a deadline", func(t *testing.T) {
		p := fastPolicy(1)
		p.AttemptTimeout = 50 * time.Millisecond
		err := Do(context.Background(), p, nil, func(ctx context.Context) error {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			<-ctx.Done()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("cancelled parent context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := fastPolicy(10)
		p.InitialInterval = 100 * time.Millisecond
		calls := 0
		err := Do(ctx, p, nil, func(context.Context) error {
			calls++
			return errTransient
		})
		require.Error(t, err)
		assert.LessOrEqual(t, calls, 1)
	})
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, DefaultPolicy(), p)
}
