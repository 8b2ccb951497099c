// Package lock provides the Redis run lock that keeps more than one process
// from draining the re-verification queue on the same tick.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding a re-verification run.
const DefaultKey = "tokenverif:reverification:run"

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-holder lease with a TTL so a crashed holder cannot
// block later runs forever.
type RedisLock struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

type Option func(*RedisLock)

func WithKey(key string) Option {
	return func(l *RedisLock) {
		if key != "" {
			l.key = key
		}
	}
}

func New(client redis.Cmdable, ttl time.Duration, opts ...Option) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	l := &RedisLock{client: client, key: DefaultKey, ttl: ttl}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// TryLock acquires the lease without waiting. When acquired is false another
// holder owns it and release is nil.
func (l *RedisLock) TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error) {
	token, err := holderToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}, true, nil
}

func holderToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
