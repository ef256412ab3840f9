package planlock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Options configures a Manager.
type Options struct {
	// Redis enables the distributed backend when non-nil.
	Redis *redis.Client
	// Prefix namespaces Redis keys.
	Prefix string
	// TTL bounds how long a crashed holder can keep a Redis lock.
	TTL time.Duration
}

// Manager selects a lock backend and bounds how long callers wait.
type Manager struct {
	nowFn        func() time.Time
	memory       *MemoryLocker
	redis        Locker
	ttl          time.Duration
	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. Without Options.Redis only the in-memory backend is used.
func NewManager(opts Options, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{
		nowFn:  nowFn,
		memory: NewMemoryLocker(),
		ttl:    opts.TTL,
	}
	if m.ttl <= 0 {
		m.ttl = 30 * time.Second
	}
	if opts.Redis != nil {
		m.redis = NewRedisLocker(opts.Redis, opts.Prefix)
	}
	return m
}

// Acquire takes the lock for key, waiting at most wait. It returns ErrLockTimeout when
// the wait budget runs out and ctx's error when ctx itself is done.
func (m *Manager) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctxWait, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if m.redis != nil && !m.isBreakerActive(m.nowFn()) {
		release, errAcquire := m.redis.Acquire(ctxWait, key, m.ttl)
		switch {
		case errAcquire == nil:
			return release, nil
		case errors.Is(errAcquire, errRedisBackend):
			m.tripBreaker(errAcquire, m.nowFn())
		default:
			return nil, m.waitError(ctx, errAcquire)
		}
	}

	release, errAcquire := m.memory.Acquire(ctxWait, key, m.ttl)
	if errAcquire != nil {
		return nil, m.waitError(ctx, errAcquire)
	}
	return release, nil
}

// UsingRedis reports whether the distributed backend is configured and not tripped.
func (m *Manager) UsingRedis() bool {
	return m.redis != nil && !m.isBreakerActive(m.nowFn())
}

func (m *Manager) waitError(parent context.Context, err error) error {
	if errParent := parent.Err(); errParent != nil {
		return errParent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrLockTimeout
	}
	return err
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("planlock: redis unavailable, falling back to memory")
}
