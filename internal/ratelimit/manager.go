package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Options configures a Manager.
type Options struct {
	// Redis enables the shared backend when non-nil.
	Redis *redis.Client
	// Prefix namespaces Redis keys.
	Prefix string
	// Limit is the number of requests allowed per window; zero disables limiting.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
}

// Manager selects a limiter backend and enforces rate limits.
type Manager struct {
	nowFn         func() time.Time
	limit         int
	window        time.Duration
	memoryLimiter Limiter
	redisLimiter  Limiter
	mu            sync.Mutex
	breakerUntil  time.Time
}

// NewManager constructs a Manager. Without Options.Redis counters stay in process memory.
func NewManager(opts Options, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{
		nowFn:         nowFn,
		limit:         opts.Limit,
		window:        opts.Window,
		memoryLimiter: NewMemoryLimiter(),
	}
	if m.window <= 0 {
		m.window = time.Minute
	}
	if opts.Redis != nil {
		m.redisLimiter = NewRedisLimiter(opts.Redis, opts.Prefix)
	}
	return m
}

// Enabled reports whether requests are limited at all.
func (m *Manager) Enabled() bool {
	return m != nil && m.limit > 0
}

// Allow checks key against the configured limit using the best available backend.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if !m.Enabled() || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()

	if m.redisLimiter != nil && !m.isBreakerActive(now) {
		result, errAllow := m.redisLimiter.Allow(ctx, key, m.limit, m.window, now)
		if errAllow == nil {
			return result, nil
		}
		m.tripBreaker(errAllow, now)
	}
	return m.memoryLimiter.Allow(ctx, key, m.limit, m.window, now)
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
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}
