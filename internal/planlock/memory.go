package planlock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLocker implements Locker with one channel semaphore per key.
type MemoryLocker struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{sems: make(map[string]chan struct{})}
}

func (l *MemoryLocker) semaphore(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[key] = sem
	}
	return sem
}

// Acquire blocks until the key is free or ctx is done. ttl is ignored: in-process
// holders always release.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	sem := l.semaphore(key)

	select {
	case sem <- struct{}{}:
		return releaseOnce(sem), nil
	default:
	}

	select {
	case sem <- struct{}{}:
		return releaseOnce(sem), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("planlock: acquire %s: %w", key, ctx.Err())
	}
}

func releaseOnce(sem chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}
}
