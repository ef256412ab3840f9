package planlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisRetryDelay = 25 * time.Millisecond

// errRedisBackend marks failures of the Redis backend itself, as opposed to contention.
var errRedisBackend = errors.New("planlock: redis backend failure")

// RedisLocker implements Locker with redsync mutexes.
type RedisLocker struct {
	rs     *redsync.Redsync
	prefix string
}

// NewRedisLocker constructs a RedisLocker over an existing client.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
	}
}

// Acquire polls the redsync mutex until it is taken or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	mutex := l.rs.NewMutex(
		l.prefix+":lock:"+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	for {
		errLock := mutex.TryLockContext(ctx)
		if errLock == nil {
			return l.release(mutex, key), nil
		}
		if errCtx := ctx.Err(); errCtx != nil {
			return nil, fmt.Errorf("planlock: acquire %s: %w", key, errCtx)
		}
		if isBackendFailure(errLock) {
			return nil, fmt.Errorf("%w: %v", errRedisBackend, errLock)
		}
		timer := time.NewTimer(redisRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("planlock: acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) release(mutex *redsync.Mutex, key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, errUnlock := mutex.UnlockContext(ctx); errUnlock != nil {
				log.WithError(errUnlock).WithField("key", key).Warn("planlock: redis unlock failed")
			}
		})
	}
}

// isBackendFailure reports whether redsync failed to talk to Redis rather than
// finding the lock taken.
func isBackendFailure(err error) bool {
	var redisErr *redsync.RedisError
	return errors.As(err, &redisErr)
}
