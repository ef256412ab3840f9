package planlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyForPlan(t *testing.T) {
	assert.Equal(t, "plan:42", KeyForPlan(42))
	assert.Equal(t, "", KeyForPlan(0))
}

func TestMemoryManagerMutualExclusion(t *testing.T) {
	m := NewManager(Options{}, nil)
	ctx := context.Background()

	var (
		inside  int64
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				release, err := m.Acquire(ctx, KeyForPlan(1), time.Second)
				if err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				if atomic.AddInt64(&inside, 1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(50 * time.Microsecond)
				atomic.AddInt64(&inside, -1)
				release()
			}
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load(), "critical sections overlapped")
}

func TestMemoryManagerTimeout(t *testing.T) {
	m := NewManager(Options{}, nil)
	release, err := m.Acquire(context.Background(), KeyForPlan(7), time.Second)
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(context.Background(), KeyForPlan(7), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// Other plans are never blocked.
	releaseOther, errOther := m.Acquire(context.Background(), KeyForPlan(8), 20*time.Millisecond)
	require.NoError(t, errOther)
	releaseOther()
}

func TestMemoryManagerParentCancel(t *testing.T) {
	m := NewManager(Options{}, nil)
	release, err := m.Acquire(context.Background(), KeyForPlan(3), time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx, KeyForPlan(3), time.Second)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(Options{}, nil)
	release, err := m.Acquire(context.Background(), KeyForPlan(5), time.Second)
	require.NoError(t, err)
	release()
	release()

	release2, err := m.Acquire(context.Background(), KeyForPlan(5), 50*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestRedisManagerExcludesAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newManager := func() *Manager {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewManager(Options{Redis: client, Prefix: "test", TTL: 5 * time.Second}, nil)
	}
	a := newManager()
	b := newManager()
	require.True(t, a.UsingRedis())

	release, err := a.Acquire(context.Background(), KeyForPlan(9), time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:plan:9"))

	_, err = b.Acquire(context.Background(), KeyForPlan(9), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.False(t, mr.Exists("test:lock:plan:9"))

	releaseB, err := b.Acquire(context.Background(), KeyForPlan(9), time.Second)
	require.NoError(t, err)
	releaseB()
}

func TestRedisManagerBreakerFallsBackToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	m := NewManager(Options{Redis: client, Prefix: "test"}, nil)
	release, err := m.Acquire(context.Background(), KeyForPlan(11), 2*time.Second)
	require.NoError(t, err)
	assert.False(t, m.UsingRedis(), "breaker should be tripped")

	// The memory fallback still excludes.
	_, err = m.Acquire(context.Background(), KeyForPlan(11), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
	release()
}
