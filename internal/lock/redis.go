package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/messaging-agent/pkg/logger"
)

const (
	keyPrefix         = "agent:lock:"
	defaultRetryDelay = 250 * time.Millisecond
)

// RedisLocker serializes across replicas with a redsync mutex per key.
// Waiters retry for up to one ttl: by then the holder has released the key
// or its expiry freed it. The caller's context can end the wait earlier.
type RedisLocker struct {
	client     redis.UniversalClient
	rs         *redsync.Redsync
	ttl        time.Duration
	retryDelay time.Duration
	logger     *logger.Logger
}

// NewRedisLocker connects to redisURL. ttl bounds how long a crashed holder
// can block a key and must exceed the longest expected critical section.
func NewRedisLocker(ctx context.Context, redisURL string, ttl time.Duration, log *logger.Logger) (*RedisLocker, error) {
	if redisURL == "" {
		return nil, errors.New("redis URL must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newRedisLocker(client, ttl, log), nil
}

func newRedisLocker(client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{
		client:     client,
		rs:         redsync.New(goredis.NewPool(client)),
		ttl:        ttl,
		retryDelay: defaultRetryDelay,
		logger:     log,
	}
}

// tries is the number of acquire attempts covering one ttl of waiting.
func (l *RedisLocker) tries() int {
	return int(l.ttl/l.retryDelay) + 2
}

// WithLock implements Locker.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(l.tries()),
		redsync.WithRetryDelay(l.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.Join(ErrLockTimeout, ctx.Err())
		}
		return fmt.Errorf("acquire %s: %w", key, err)
	}

	defer func() {
		// The caller's context may already be done; release on a fresh one.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// Ping checks the redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
