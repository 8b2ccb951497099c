package dnstxt

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenverif/internal/verification/models"
	"tokenverif/internal/verification/proofs"
	id "tokenverif/pkg/domain"
	"tokenverif/pkg/platform/retry"
)

type resolverFunc func(ctx context.Context, host string) ([]string, error)

func (f resolverFunc) LookupTXT(ctx context.Context, host string) ([]string, error) {
	return f(ctx, host)
}

var fastRetry = retry.Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	AttemptTimeout:  time.Second,
}

func dnsClaim(t *testing.T, domain string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(models.DNSClaim{Domain: domain})
	require.NoError(t, err)
	return raw
}

func TestVerify(t *testing.T) {
	target := proofs.Target{RequestID: id.NewRequestID(), Nonce: "00112233445566778899aabbccddeeff"}
	expected := target.ExpectedChallenge()

	t.Run("matching record among several", func(t *testing.T) {
		var gotHost string
		v := New(resolverFunc(func(_ context.Context, host string) ([]string, error) {
			gotHost = host
			return []string{"v=spf1 -all", expected}, nil
		}), WithRetryPolicy(fastRetry))

		out, err := v.Verify(context.Background(), target, dnsClaim(t, "Example.COM"))
		require.NoError(t, err)
		assert.True(t, out.Valid)
		assert.Equal(t, "token-verify.example.com", gotHost)
		assert.Equal(t, "2", out.Evidence.Details["records"])
	})

	t.Run("match is case sensitive", func(t *testing.T) {
		v := New(resolverFunc(func(context.Context, string) ([]string, error) {
			return []string{"TOKENVERIF:V1:" + target.RequestID.String() + ":" + target.Nonce}, nil
		}), WithRetryPolicy(fastRetry))

		out, err := v.Verify(context.Background(), target, dnsClaim(t, "example.com"))
		require.NoError(t, err)
		assert.False(t, out.Valid)
	})

	t.Run("no records is a negative verdict without retry", func(t *testing.T) {
		var calls atomic.Int32
		v := New(resolverFunc(func(context.Context, string) ([]string, error) {
			calls.Add(1)
			return nil, ErrNoRecords
		}), WithRetryPolicy(fastRetry))

		out, err := v.Verify(context.Background(), target, dnsClaim(t, "example.com"))
		require.NoError(t, err)
		assert.False(t, out.Valid)
		assert.Contains(t, out.Reason, "no TXT records")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("resolver failure retried then transient", func(t *testing.T) {
		var calls atomic.Int32
		v := New(resolverFunc(func(context.Context, string) ([]string, error) {
			calls.Add(1)
			return nil, &RcodeError{Rcode: 2}
		}), WithRetryPolicy(fastRetry))

		_, err := v.Verify(context.Background(), target, dnsClaim(t, "example.com"))
		require.Error(t, err)
		assert.True(t, proofs.IsTransient(err))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("resolver recovers on second attempt", func(t *testing.T) {
		var calls atomic.Int32
		v := New(resolverFunc(func(context.Context, string) ([]string, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("read udp: i/o timeout")
			}
			return []string{expected}, nil
		}), WithRetryPolicy(fastRetry))

		out, err := v.Verify(context.Background(), target, dnsClaim(t, "example.com"))
		require.NoError(t, err)
		assert.True(t, out.Valid)
	})

	t.Run("bad claims", func(t *testing.T) {
		v := New(resolverFunc(func(context.Context, string) ([]string, error) {
			t.Fatal("resolver must not be called")
			return nil, nil
		}))
		for _, raw := range []json.RawMessage{json.RawMessage(`nope`), dnsClaim(t, ""), dnsClaim(t, "https://example.com")} {
			out, err := v.Verify(context.Background(), target, raw)
			require.NoError(t, err)
			assert.False(t, out.Valid)
		}
	})
}
