package settings

import "time"

// Defaults applied when the config file omits a value.
const (
	// DefaultLockWait bounds how long a request-path operation waits for a plan lock.
	DefaultLockWait = 2 * time.Second
	// DefaultLockTTL is the lease of a Redis plan lock.
	DefaultLockTTL = 30 * time.Second
	// DefaultBusyRetries is how many times a busy Consume is retried before surfacing.
	DefaultBusyRetries = 3
	// DefaultRedisPrefix is the Redis key prefix for plan locks and events.
	DefaultRedisPrefix = "supporthours"
	// DefaultRolloverCron is the rollover sweep schedule.
	DefaultRolloverCron = "@hourly"
	// DefaultRolloverLockWait bounds how long the sweep waits for a plan lock.
	DefaultRolloverLockWait = 15 * time.Second
	// DefaultRolloverPlanTimeout bounds one plan's rollover.
	DefaultRolloverPlanTimeout = 30 * time.Second
	// DefaultRolloverMaxCatchUp caps how many missed boundaries one run processes.
	DefaultRolloverMaxCatchUp = 24
	// DefaultLowBalanceHours triggers a low-balance event when the total drops below it.
	DefaultLowBalanceHours = "2"
	// DefaultExpiringSoonWindow is how far ahead expiring pools are announced.
	DefaultExpiringSoonWindow = 7 * 24 * time.Hour
	// DefaultNotifyBuffer is the async dispatcher queue size.
	DefaultNotifyBuffer = 256
	// DefaultFrontRateLimit is the per-client request budget of the portal endpoints.
	DefaultFrontRateLimit = 60
	// DefaultFrontRateWindow is the portal rate limit window.
	DefaultFrontRateWindow = time.Minute
	// DefaultPort is the HTTP listen port.
	DefaultPort = 8320
)
