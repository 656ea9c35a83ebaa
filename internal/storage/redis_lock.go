// internal/storage/redis_lock.go
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/cmatc13/lumenpay/pkg/errors"
)

const (
	lockKeyPrefix = "lock:submit:"

	// DefaultLockTTL bounds how long a crashed holder can block other submitters
	DefaultLockTTL = 60 * time.Second

	lockRetryInterval = 25 * time.Millisecond
)

// releaseScript deletes the lock only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisLock is a single-writer lock keyed on the signing account
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLock creates a lock on an existing client
func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl}
}

// Acquire blocks until the lock for key is held or ctx is done. The returned function releases it.
func (l *RedisLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	lockKey := lockKeyPrefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpAcquireLock,
				"Submission lock unavailable", fmt.Errorf("setnx: %w", err))
		}
		if ok {
			return func(releaseCtx context.Context) error {
				if err := releaseScript.Run(releaseCtx, l.client, []string{lockKey}, token).Err(); err != nil && err != redis.Nil {
					return fmt.Errorf("failed to release lock: %w", err)
				}
				return nil
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.NewPaymentError(errors.PaymentErrUpstreamUnavailable, errors.OpAcquireLock,
				"Timed out waiting for the submission lock", ctx.Err())
		case <-ticker.C:
		}
	}
}
