// Package ledger tracks support hours across the monthly allowance, rollover
// records and hour packs of a maintenance plan.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/router-for-me/supporthours/internal/planlock"
	"github.com/router-for-me/supporthours/internal/settings"
	"github.com/router-for-me/supporthours/internal/tiers"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Options configures an Engine.
type Options struct {
	DB    *gorm.DB
	Locks *planlock.Manager
	Tiers *tiers.Catalog
	Packs *tiers.PackCatalog
	Sink  notify.Sink

	LockWait    time.Duration
	BusyRetries int
	LowBalance  decimal.Decimal
	Now         func() time.Time
}

// Engine answers balance queries and applies hour movements.
type Engine struct {
	db          *gorm.DB
	locks       *planlock.Manager
	tiers       *tiers.Catalog
	packs       *tiers.PackCatalog
	sink        notify.Sink
	lockWait    time.Duration
	busyRetries int
	lowBalance  decimal.Decimal
	now         func() time.Time
}

// NewEngine constructs an Engine, filling unset options with defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.DB == nil {
		return nil, errors.New("ledger: nil db")
	}
	e := &Engine{
		db:          opts.DB,
		locks:       opts.Locks,
		tiers:       opts.Tiers,
		packs:       opts.Packs,
		sink:        opts.Sink,
		lockWait:    opts.LockWait,
		busyRetries: opts.BusyRetries,
		lowBalance:  opts.LowBalance,
		now:         opts.Now,
	}
	if e.locks == nil {
		e.locks = planlock.NewManager(planlock.Options{}, nil)
	}
	if e.tiers == nil {
		e.tiers = tiers.Default()
	}
	if e.packs == nil {
		e.packs = tiers.DefaultPacks()
	}
	if e.sink == nil {
		e.sink = notify.Nop{}
	}
	if e.lockWait <= 0 {
		e.lockWait = settings.DefaultLockWait
	}
	if e.busyRetries < 0 {
		e.busyRetries = 0
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// DB exposes the underlying connection to sibling packages.
func (e *Engine) DB() *gorm.DB { return e.db }

// Tiers returns the tier catalog.
func (e *Engine) Tiers() *tiers.Catalog { return e.tiers }

// Now returns the engine clock in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Balance is the available-hours breakdown of a plan.
type Balance struct {
	PlanID            uint64          `json:"plan_id"`
	MonthlyRemaining  decimal.Decimal `json:"monthly_remaining"`
	RolloverRemaining decimal.Decimal `json:"rollover_remaining"`
	PacksRemaining    decimal.Decimal `json:"packs_remaining"`
	Total             decimal.Decimal `json:"total"`
	IsUnlimited       bool            `json:"is_unlimited"`
	At                time.Time       `json:"at"`
}

func balanceFromSet(planID uint64, set poolSet, at time.Time) Balance {
	return Balance{
		PlanID:            planID,
		MonthlyRemaining:  set.monthly,
		RolloverRemaining: set.rollover,
		PacksRemaining:    set.packs,
		Total:             set.total(),
		At:                at,
	}
}

func unlimitedBalance(planID uint64, at time.Time) Balance {
	return Balance{
		PlanID:            planID,
		MonthlyRemaining:  decimal.Zero,
		RolloverRemaining: decimal.Zero,
		PacksRemaining:    decimal.Zero,
		Total:             decimal.Zero,
		IsUnlimited:       true,
		At:                at,
	}
}

// GetBalance returns the plan balance at at. A zero at means now.
func (e *Engine) GetBalance(ctx context.Context, planID uint64, at time.Time) (Balance, error) {
	view, err := e.PlanView(ctx, planID, at)
	if err != nil {
		return Balance{}, err
	}
	return view.Balance, nil
}

// DrawResult is one pool decrement made by Consume.
type DrawResult struct {
	PoolKind models.PoolKind `json:"pool_kind"`
	PoolID   uint64          `json:"pool_id,omitempty"`
	Hours    decimal.Decimal `json:"hours"`
}

// ConsumeResult describes a successful consumption.
type ConsumeResult struct {
	OperationID string          `json:"operation_id"`
	PlanID      uint64          `json:"plan_id"`
	Requested   decimal.Decimal `json:"requested"`
	Unlimited   bool            `json:"unlimited"`
	Draws       []DrawResult    `json:"draws"`
	Balance     Balance         `json:"balance"`
}

// Consume draws hours from the plan's pools. Unlimited tiers are only audited.
// Busy plans are retried with backoff before ErrBusy is returned.
func (e *Engine) Consume(ctx context.Context, planID uint64, hours decimal.Decimal, at time.Time) (ConsumeResult, error) {
	if planID == 0 {
		return ConsumeResult{}, invalidInput("plan id is required")
	}
	if !hours.IsPositive() {
		return ConsumeResult{}, invalidInput("hours must be positive")
	}
	at = e.normalizeAt(at)

	var result ConsumeResult
	var before Balance
	errRun := e.retryBusy(ctx, func() error {
		var errOnce error
		result, before, errOnce = e.consumeOnce(ctx, planID, hours, at)
		return errOnce
	})
	if errRun != nil {
		var invariant *InvariantError
		if errors.As(errRun, &invariant) {
			e.emit(notify.Event{Type: notify.EventInvariantViolation, PlanID: planID, Detail: invariant.Detail, OccurredAt: at})
		}
		return ConsumeResult{}, errRun
	}

	if !result.Unlimited && e.lowBalance.IsPositive() &&
		before.Total.GreaterThanOrEqual(e.lowBalance) && result.Balance.Total.LessThan(e.lowBalance) {
		e.emit(notify.Event{Type: notify.EventLowBalance, PlanID: planID, Hours: result.Balance.Total, OccurredAt: at})
	}
	return result, nil
}

func (e *Engine) consumeOnce(ctx context.Context, planID uint64, hours decimal.Decimal, at time.Time) (ConsumeResult, Balance, error) {
	opID := uuid.NewString()
	result := ConsumeResult{OperationID: opID, PlanID: planID, Requested: hours}
	var before Balance
	// Set when the balance is short; the stale-flag flips still commit.
	var shortfall error

	errMutate := e.Mutate(ctx, planID, e.lockWait, func(tx *gorm.DB) error {
		plan, errPlan := LoadPlanForUpdate(tx, planID)
		if errPlan != nil {
			return errPlan
		}
		if plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusCancelled {
			return fmt.Errorf("%w: status %s", ErrPlanNotActive, plan.Status)
		}

		if e.tiers.IsUnlimited(plan.Tier) {
			result.Unlimited = true
			result.Balance = unlimitedBalance(planID, at)
			return AppendEntries(tx, []models.LedgerEntry{{
				PlanID:      planID,
				OperationID: opID,
				Kind:        models.LedgerEntryUnlimitedUsage,
				Hours:       hours.Neg(),
				Note:        "unlimited tier usage",
				Metadata:    EntryMetadata(map[string]any{"tier": plan.Tier}),
				OccurredAt:  at,
			}})
		}

		rollovers, packs, errPools := LoadUsablePools(tx, planID)
		if errPools != nil {
			return errPools
		}
		if errInvariant := checkInvariants(plan, rollovers, packs); errInvariant != nil {
			return errInvariant
		}

		set := classifyPools(plan, rollovers, packs, at)
		before = balanceFromSet(planID, set, at)
		if errExpire := ExpireRollovers(tx, set.staleRollovers, at); errExpire != nil {
			return errExpire
		}
		if errDeactivate := DeactivatePacks(tx, set.stalePacks, at); errDeactivate != nil {
			return errDeactivate
		}

		draws, errPlanDraws := PlanDraws(set.pools, hours)
		if errPlanDraws != nil {
			shortfall = errPlanDraws
			return nil
		}

		after, errApply := e.applyDraws(tx, &plan, rollovers, packs, draws, opID, at)
		if errApply != nil {
			return errApply
		}
		result.Draws = make([]DrawResult, 0, len(draws))
		for _, d := range draws {
			result.Draws = append(result.Draws, DrawResult{PoolKind: d.Pool.Kind, PoolID: d.Pool.ID, Hours: d.Hours})
		}
		result.Balance = balanceFromSet(planID, after, at)

		if !result.Balance.Total.Equal(before.Total.Sub(hours)) {
			return &InvariantError{PlanID: planID, Detail: fmt.Sprintf("balance moved from %s to %s for a %s draw", before.Total, result.Balance.Total, hours)}
		}
		return nil
	})
	if errMutate != nil {
		return ConsumeResult{}, Balance{}, errMutate
	}
	if shortfall != nil {
		return ConsumeResult{}, Balance{}, shortfall
	}
	return result, before, nil
}

// applyDraws persists the planned draws and returns the resulting pool set.
func (e *Engine) applyDraws(tx *gorm.DB, plan *models.MaintenancePlan, rollovers []models.RolloverRecord, packs []models.HourPack, draws []Draw, opID string, at time.Time) (poolSet, error) {
	rolloverByID := make(map[uint64]*models.RolloverRecord, len(rollovers))
	for i := range rollovers {
		rolloverByID[rollovers[i].ID] = &rollovers[i]
	}
	packByID := make(map[uint64]*models.HourPack, len(packs))
	for i := range packs {
		packByID[packs[i].ID] = &packs[i]
	}

	entries := make([]models.LedgerEntry, 0, len(draws))
	monthlyDraw := decimal.Zero
	for _, d := range draws {
		entry := models.LedgerEntry{
			PlanID:      plan.ID,
			OperationID: opID,
			Kind:        models.LedgerEntryConsume,
			PoolKind:    d.Pool.Kind,
			Hours:       d.Hours.Neg(),
			OccurredAt:  at,
		}
		switch d.Pool.Kind {
		case models.PoolMonthly:
			monthlyDraw = monthlyDraw.Add(d.Hours)
		case models.PoolRollover:
			record := rolloverByID[d.Pool.ID]
			if record == nil {
				return poolSet{}, &InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("draw from unknown rollover %d", d.Pool.ID)}
			}
			record.HoursRemaining = record.HoursRemaining.Sub(d.Hours)
			updates := map[string]any{"hours_remaining": record.HoursRemaining, "updated_at": at}
			if !record.HoursRemaining.IsPositive() {
				record.IsExpired = true
				updates["is_expired"] = true
			}
			if errUpdate := tx.Model(&models.RolloverRecord{}).Where("id = ?", record.ID).Updates(updates).Error; errUpdate != nil {
				return poolSet{}, fmt.Errorf("ledger: draw rollover %d: %w", record.ID, errUpdate)
			}
			poolID := record.ID
			entry.PoolID = &poolID
		case models.PoolPack:
			pack := packByID[d.Pool.ID]
			if pack == nil {
				return poolSet{}, &InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("draw from unknown pack %d", d.Pool.ID)}
			}
			pack.HoursRemaining = pack.HoursRemaining.Sub(d.Hours)
			updates := map[string]any{"hours_remaining": pack.HoursRemaining, "updated_at": at}
			if !pack.HoursRemaining.IsPositive() {
				pack.IsActive = false
				updates["is_active"] = false
			}
			if errUpdate := tx.Model(&models.HourPack{}).Where("id = ?", pack.ID).Updates(updates).Error; errUpdate != nil {
				return poolSet{}, fmt.Errorf("ledger: draw pack %d: %w", pack.ID, errUpdate)
			}
			poolID := pack.ID
			entry.PoolID = &poolID
		}
		entries = append(entries, entry)
	}

	plan.SupportHoursUsed = plan.SupportHoursUsed.Add(monthlyDraw)
	if errCAS := UpdatePlanCAS(tx, plan, map[string]any{"support_hours_used": plan.SupportHoursUsed}, at); errCAS != nil {
		return poolSet{}, errCAS
	}
	if errInvariant := checkInvariants(*plan, rollovers, packs); errInvariant != nil {
		return poolSet{}, errInvariant
	}
	if errEntries := AppendEntries(tx, entries); errEntries != nil {
		return poolSet{}, errEntries
	}
	return classifyPools(*plan, rollovers, packs, at), nil
}

// CreditRequest adds hours to one pool.
type CreditRequest struct {
	PlanID    uint64
	Hours     decimal.Decimal
	Pool      models.PoolKind
	Note      string
	ExpiresAt *time.Time // Pack credits only; nil never expires.
	At        time.Time
}

// CreditResult describes an applied credit.
type CreditResult struct {
	OperationID string          `json:"operation_id"`
	PoolKind    models.PoolKind `json:"pool_kind"`
	PoolID      uint64          `json:"pool_id,omitempty"`
	Hours       decimal.Decimal `json:"hours"`
	Balance     Balance         `json:"balance"`
}

// Credit grants hours to the requested pool kind without touching any other pool.
//   - monthly gives back consumed allowance and cannot exceed what was used;
//   - rollover tops up the record carried from the previous period, creating it if needed;
//   - pack creates a goodwill pack.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.PlanID == 0 {
		return CreditResult{}, invalidInput("plan id is required")
	}
	if !req.Hours.IsPositive() {
		return CreditResult{}, invalidInput("hours must be positive")
	}
	if !req.Pool.Valid() {
		return CreditResult{}, invalidInput("unknown pool %q", req.Pool)
	}
	at := e.normalizeAt(req.At)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(at) {
		return CreditResult{}, invalidInput("expiry must be in the future")
	}

	var result CreditResult
	errRun := e.retryBusy(ctx, func() error {
		result = CreditResult{OperationID: uuid.NewString(), PoolKind: req.Pool, Hours: req.Hours}
		return e.Mutate(ctx, req.PlanID, e.lockWait, func(tx *gorm.DB) error {
			plan, errPlan := LoadPlanForUpdate(tx, req.PlanID)
			if errPlan != nil {
				return errPlan
			}
			poolID, errCredit := e.applyCredit(tx, &plan, req, at)
			if errCredit != nil {
				return errCredit
			}
			result.PoolID = poolID
			var entryPoolID *uint64
			if poolID != 0 {
				entryPoolID = &poolID
			}
			return AppendEntries(tx, []models.LedgerEntry{{
				PlanID:      plan.ID,
				OperationID: result.OperationID,
				Kind:        models.LedgerEntryCredit,
				PoolKind:    req.Pool,
				PoolID:      entryPoolID,
				Hours:       req.Hours,
				Note:        req.Note,
				OccurredAt:  at,
			}})
		})
	})
	if errRun != nil {
		return CreditResult{}, errRun
	}

	balance, errBalance := e.GetBalance(ctx, req.PlanID, at)
	if errBalance != nil {
		log.WithError(errBalance).WithField("plan_id", req.PlanID).Warn("ledger: reload balance after credit")
	}
	result.Balance = balance
	return result, nil
}

func (e *Engine) applyCredit(tx *gorm.DB, plan *models.MaintenancePlan, req CreditRequest, at time.Time) (uint64, error) {
	switch req.Pool {
	case models.PoolMonthly:
		if req.Hours.GreaterThan(plan.SupportHoursUsed) {
			return 0, invalidInput("monthly credit %s exceeds hours used %s", req.Hours, plan.SupportHoursUsed)
		}
		plan.SupportHoursUsed = plan.SupportHoursUsed.Sub(req.Hours)
		return 0, UpdatePlanCAS(tx, plan, map[string]any{"support_hours_used": plan.SupportHoursUsed}, at)

	case models.PoolRollover:
		if !plan.HasPeriod() {
			return 0, invalidInput("plan %d has no billing period", plan.ID)
		}
		var record models.RolloverRecord
		errFind := tx.Where("plan_id = ? AND source_period_end = ?", plan.ID, plan.CurrentPeriodStart.UTC()).Take(&record).Error
		switch {
		case errFind == nil:
			if record.ExpiredAt(at) {
				return 0, invalidInput("rollover record %d has expired", record.ID)
			}
			// A drained record is flagged expired by the draw; a top-up reopens it.
			record.Hours = record.Hours.Add(req.Hours)
			record.HoursRemaining = record.HoursRemaining.Add(req.Hours)
			record.IsExpired = false
			if errUpdate := tx.Model(&models.RolloverRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
				"hours":           record.Hours,
				"hours_remaining": record.HoursRemaining,
				"is_expired":      false,
				"updated_at":      at,
			}).Error; errUpdate != nil {
				return 0, fmt.Errorf("ledger: top up rollover %d: %w", record.ID, errUpdate)
			}
		case errors.Is(errFind, gorm.ErrRecordNotFound):
			window := currentWindow(*plan)
			record = models.RolloverRecord{
				PlanID:            plan.ID,
				Hours:             req.Hours,
				HoursRemaining:    req.Hours,
				ExpiresAt:         window.End,
				SourcePeriodStart: previousStart(*plan),
				SourcePeriodEnd:   window.Start,
			}
			if errCreate := tx.Create(&record).Error; errCreate != nil {
				return 0, fmt.Errorf("ledger: create rollover credit: %w", errCreate)
			}
		default:
			return 0, fmt.Errorf("ledger: find rollover credit target: %w", errFind)
		}
		return record.ID, UpdatePlanCAS(tx, plan, map[string]any{}, at)

	case models.PoolPack:
		pack := models.HourPack{
			PlanID:         plan.ID,
			PackType:       GoodwillPackType,
			Hours:          req.Hours,
			HoursRemaining: req.Hours,
			Cost:           decimal.Zero,
			PurchasedAt:    at,
			ExpiresAt:      utcPtr(req.ExpiresAt),
			NeverExpires:   req.ExpiresAt == nil,
			IsActive:       true,
		}
		if errCreate := tx.Create(&pack).Error; errCreate != nil {
			return 0, fmt.Errorf("ledger: create goodwill pack: %w", errCreate)
		}
		return pack.ID, UpdatePlanCAS(tx, plan, map[string]any{}, at)
	}
	return 0, invalidInput("unknown pool %q", req.Pool)
}

// GoodwillPackType labels packs granted by administrative credit.
const GoodwillPackType = "GOODWILL"

// PackRequest purchases an hour pack. Zero Hours, a nil Cost and a nil ExpiresAt
// without NeverExpires are filled from the pack catalog.
type PackRequest struct {
	PlanID       uint64
	PackType     string
	Hours        decimal.Decimal
	Cost         *decimal.Decimal
	ExpiresAt    *time.Time
	NeverExpires bool
	PurchasedAt  time.Time
}

// CreditPack records a purchased hour pack.
func (e *Engine) CreditPack(ctx context.Context, req PackRequest) (models.HourPack, error) {
	if req.PlanID == 0 {
		return models.HourPack{}, invalidInput("plan id is required")
	}
	purchasedAt := e.normalizeAt(req.PurchasedAt)
	pack, errBuild := e.buildPack(req, purchasedAt)
	if errBuild != nil {
		return models.HourPack{}, errBuild
	}

	errRun := e.retryBusy(ctx, func() error {
		created := pack
		errMutate := e.Mutate(ctx, req.PlanID, e.lockWait, func(tx *gorm.DB) error {
			plan, errPlan := LoadPlanForUpdate(tx, req.PlanID)
			if errPlan != nil {
				return errPlan
			}
			if plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusPaused {
				return fmt.Errorf("%w: status %s", ErrPlanNotActive, plan.Status)
			}
			if errCreate := tx.Create(&created).Error; errCreate != nil {
				return fmt.Errorf("ledger: create pack: %w", errCreate)
			}
			if errCAS := UpdatePlanCAS(tx, &plan, map[string]any{}, purchasedAt); errCAS != nil {
				return errCAS
			}
			poolID := created.ID
			return AppendEntries(tx, []models.LedgerEntry{{
				PlanID:      plan.ID,
				OperationID: uuid.NewString(),
				Kind:        models.LedgerEntryPackPurchase,
				PoolKind:    models.PoolPack,
				PoolID:      &poolID,
				Hours:       created.Hours,
				Metadata:    EntryMetadata(map[string]any{"pack_type": created.PackType, "cost": created.Cost.String()}),
				OccurredAt:  purchasedAt,
			}})
		})
		if errMutate == nil {
			pack = created
		}
		return errMutate
	})
	if errRun != nil {
		return models.HourPack{}, errRun
	}
	return pack, nil
}

func (e *Engine) buildPack(req PackRequest, purchasedAt time.Time) (models.HourPack, error) {
	packType := tiers.Normalize(req.PackType)
	if packType == "" {
		return models.HourPack{}, invalidInput("pack type is required")
	}
	def, known := e.packs.Lookup(packType)

	hours := req.Hours
	if hours.IsZero() && known {
		hours = def.Hours
	}
	if !hours.IsPositive() {
		return models.HourPack{}, invalidInput("pack %s needs positive hours", packType)
	}
	cost := decimal.Zero
	switch {
	case req.Cost != nil:
		cost = *req.Cost
	case known:
		cost = def.Cost
	}
	if cost.IsNegative() {
		return models.HourPack{}, invalidInput("pack cost must not be negative")
	}

	pack := models.HourPack{
		PlanID:         req.PlanID,
		PackType:       packType,
		Hours:          hours,
		HoursRemaining: hours,
		Cost:           cost,
		PurchasedAt:    purchasedAt,
		IsActive:       true,
	}
	switch {
	case req.NeverExpires:
		pack.NeverExpires = true
	case req.ExpiresAt != nil:
		if !req.ExpiresAt.After(purchasedAt) {
			return models.HourPack{}, invalidInput("pack expiry must be after purchase")
		}
		pack.ExpiresAt = utcPtr(req.ExpiresAt)
	case known:
		pack.ExpiresAt = def.ExpiresAt(purchasedAt)
		pack.NeverExpires = pack.ExpiresAt == nil
	default:
		pack.NeverExpires = true
	}
	return pack, nil
}

// Usage lists the most recent ledger entries of a plan, newest first.
func (e *Engine) Usage(ctx context.Context, planID uint64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.LedgerEntry
	if errFind := e.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("occurred_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error; errFind != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", errFind)
	}
	return entries, nil
}

// Mutate runs fn in one transaction while holding the plan lock. Lock timeouts and
// database lock conflicts surface as ErrBusy; any error rolls the transaction back.
func (e *Engine) Mutate(ctx context.Context, planID uint64, wait time.Duration, fn func(tx *gorm.DB) error) error {
	release, errLock := e.locks.Acquire(ctx, planlock.KeyForPlan(planID), wait)
	if errLock != nil {
		if errors.Is(errLock, planlock.ErrLockTimeout) {
			return fmt.Errorf("%w: %v", ErrBusy, errLock)
		}
		return errLock
	}
	defer release()

	errTx := e.db.WithContext(ctx).Transaction(fn)
	if errTx != nil && !errors.Is(errTx, ErrBusy) && IsBusy(errTx) {
		return fmt.Errorf("%w: %v", ErrBusy, errTx)
	}
	return errTx
}

// Retry reruns op with the engine's busy backoff policy. A final version conflict
// surfaces as ErrBusy.
func (e *Engine) Retry(ctx context.Context, op func() error) error {
	return e.retryBusy(ctx, op)
}

// retryBusy reruns op with exponential backoff while it fails with a retryable error.
func (e *Engine) retryBusy(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 25 * time.Millisecond
	policy.MaxInterval = 400 * time.Millisecond
	policy.MaxElapsedTime = 0

	errRetry := backoff.Retry(func() error {
		errOp := op()
		if errOp != nil && !IsRetryable(errOp) {
			return backoff.Permanent(errOp)
		}
		return errOp
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.busyRetries)), ctx))

	if errRetry != nil && errors.Is(errRetry, ErrConflict) {
		return fmt.Errorf("%w: %v", ErrBusy, errRetry)
	}
	return errRetry
}

func (e *Engine) emit(event notify.Event) {
	if errNotify := e.sink.Notify(context.Background(), event); errNotify != nil {
		log.WithError(errNotify).WithField("event", string(event.Type)).Warn("ledger: notify failed")
	}
}

func (e *Engine) normalizeAt(at time.Time) time.Time {
	if at.IsZero() {
		return e.Now()
	}
	return at.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
