package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/router-for-me/supporthours/internal/models"
	"github.com/shopspring/decimal"
)

// Pool is a read-only view of one balance-bearing source at a point in time.
type Pool struct {
	Kind        models.PoolKind
	ID          uint64 // 0 for the monthly allowance.
	Remaining   decimal.Decimal
	ExpiresAt   *time.Time // nil when the pool never expires.
	PurchasedAt time.Time
}

// Draw is the amount taken from one pool.
type Draw struct {
	Pool  Pool
	Hours decimal.Decimal
}

func drawRank(p Pool) int {
	switch p.Kind {
	case models.PoolMonthly:
		return 0
	case models.PoolRollover:
		return 1
	default:
		if p.ExpiresAt != nil {
			return 2
		}
		return 3
	}
}

// SortPools orders pools for draw-down: monthly allowance, rollovers by soonest
// expiry, expiring packs by soonest expiry, then never-expiring packs oldest first.
func SortPools(pools []Pool) {
	sort.SliceStable(pools, func(i, j int) bool {
		a, b := pools[i], pools[j]
		ra, rb := drawRank(a), drawRank(b)
		if ra != rb {
			return ra < rb
		}
		switch ra {
		case 1, 2:
			if !a.ExpiresAt.Equal(*b.ExpiresAt) {
				return a.ExpiresAt.Before(*b.ExpiresAt)
			}
		case 3:
			if !a.PurchasedAt.Equal(b.PurchasedAt) {
				return a.PurchasedAt.Before(b.PurchasedAt)
			}
		}
		return a.ID < b.ID
	})
}

// Total sums the remaining hours of pools.
func Total(pools []Pool) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pools {
		total = total.Add(p.Remaining)
	}
	return total
}

// PlanDraws splits hours across pools in draw-down order. It either covers the full
// amount or returns an *InsufficientBalanceError and no draws.
func PlanDraws(pools []Pool, hours decimal.Decimal) ([]Draw, error) {
	ordered := make([]Pool, len(pools))
	copy(ordered, pools)
	SortPools(ordered)

	available := Total(ordered)
	if hours.GreaterThan(available) {
		return nil, &InsufficientBalanceError{Requested: hours, Available: available}
	}

	draws := make([]Draw, 0, len(ordered))
	remaining := hours
	for _, p := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if !p.Remaining.IsPositive() {
			continue
		}
		take := decimal.Min(p.Remaining, remaining)
		draws = append(draws, Draw{Pool: p, Hours: take})
		remaining = remaining.Sub(take)
	}
	return draws, nil
}

// poolSet is the classified pool state of a plan at one instant.
type poolSet struct {
	pools []Pool

	monthly  decimal.Decimal
	rollover decimal.Decimal
	packs    decimal.Decimal

	// Rows still flagged usable that have expired or run dry.
	staleRollovers []uint64
	stalePacks     []uint64
}

func classifyPools(plan models.MaintenancePlan, rollovers []models.RolloverRecord, packs []models.HourPack, at time.Time) poolSet {
	set := poolSet{
		monthly:  plan.MonthlyRemainingAt(at),
		rollover: decimal.Zero,
		packs:    decimal.Zero,
	}
	if set.monthly.IsPositive() {
		set.pools = append(set.pools, Pool{Kind: models.PoolMonthly, Remaining: set.monthly})
	}

	for _, r := range rollovers {
		if r.IsExpired {
			continue
		}
		available := r.AvailableAt(at)
		if !available.IsPositive() {
			set.staleRollovers = append(set.staleRollovers, r.ID)
			continue
		}
		expiresAt := r.ExpiresAt
		set.pools = append(set.pools, Pool{Kind: models.PoolRollover, ID: r.ID, Remaining: available, ExpiresAt: &expiresAt})
		set.rollover = set.rollover.Add(available)
	}

	for _, p := range packs {
		if !p.IsActive {
			continue
		}
		available := p.AvailableAt(at)
		if !available.IsPositive() {
			set.stalePacks = append(set.stalePacks, p.ID)
			continue
		}
		pool := Pool{Kind: models.PoolPack, ID: p.ID, Remaining: available, PurchasedAt: p.PurchasedAt}
		if p.Expires() {
			expiresAt := *p.ExpiresAt
			pool.ExpiresAt = &expiresAt
		}
		set.pools = append(set.pools, pool)
		set.packs = set.packs.Add(available)
	}
	return set
}

func (s poolSet) total() decimal.Decimal {
	return s.monthly.Add(s.rollover).Add(s.packs)
}

// checkInvariants rejects persisted states no sequence of ledger operations can produce.
func checkInvariants(plan models.MaintenancePlan, rollovers []models.RolloverRecord, packs []models.HourPack) error {
	if plan.SupportHoursIncluded.IsNegative() {
		return &InvariantError{PlanID: plan.ID, Detail: "negative monthly allowance"}
	}
	if plan.SupportHoursUsed.IsNegative() {
		return &InvariantError{PlanID: plan.ID, Detail: "negative monthly usage"}
	}
	if plan.SupportHoursUsed.GreaterThan(plan.SupportHoursIncluded) {
		return &InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("monthly usage %s exceeds allowance %s", plan.SupportHoursUsed, plan.SupportHoursIncluded)}
	}
	for _, r := range rollovers {
		if r.HoursRemaining.IsNegative() || r.HoursRemaining.GreaterThan(r.Hours) {
			return &InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("rollover record %d remaining %s outside [0, %s]", r.ID, r.HoursRemaining, r.Hours)}
		}
	}
	for _, p := range packs {
		if p.HoursRemaining.IsNegative() || p.HoursRemaining.GreaterThan(p.Hours) {
			return &InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("hour pack %d remaining %s outside [0, %s]", p.ID, p.HoursRemaining, p.Hours)}
		}
	}
	return nil
}
