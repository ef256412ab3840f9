// Package planlock serializes mutations of a single maintenance plan across
// goroutines and, when Redis is configured, across processes.
package planlock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned when the lock could not be taken within the wait budget.
var ErrLockTimeout = errors.New("planlock: lock wait timed out")

// Locker acquires exclusive, keyed locks. The returned release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// KeyForPlan builds the lock key for a plan.
func KeyForPlan(planID uint64) string {
	if planID == 0 {
		return ""
	}
	return fmt.Sprintf("plan:%d", planID)
}
