package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix       = "webhook-lock:"
	lockPollInterval = 25 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

var ErrLockTimeout = errors.New("timed out waiting for delivery lock")

// only the holder's token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker serializes deliveries for one correlation id. Acquire always
// returns a callable release func, even on error.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

func NewRedisLock(client *redis.Client, ttl, wait time.Duration, logger *slog.Logger) *RedisLock {
	return &RedisLock{
		client: client,
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	token := uuid.NewString()
	redisKey := lockPrefix + key

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return noop, err
		}
		if ok {
			return func() { l.release(ctx, redisKey, token) }, nil
		}
		if time.Now().After(deadline) {
			return noop, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return noop, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *RedisLock) release(ctx context.Context, key, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release delivery lock", "error", err, "key", key)
	}
}
