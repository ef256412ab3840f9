// Package rollover closes billing periods: it carries unused allowance into rollover
// records, sweeps expired pools, resets the period counters and advances the window.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/router-for-me/supporthours/internal/period"
	"github.com/router-for-me/supporthours/internal/settings"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Status is the result of a rollover attempt for one plan.
type Status string

// Status constants.
const (
	// StatusRolled means at least one boundary was processed.
	StatusRolled Status = "rolled"
	// StatusAlreadyRolled means the last boundary was processed and the next is not due.
	StatusAlreadyRolled Status = "already_rolled"
	// StatusNotDue means the current period has not ended.
	StatusNotDue Status = "not_due"
	// StatusSkipped means the plan is not eligible for rollover.
	StatusSkipped Status = "skipped"
)

// Boundary describes one processed period boundary.
type Boundary struct {
	PeriodStart          time.Time       `json:"period_start"`
	PeriodEnd            time.Time       `json:"period_end"`
	UnusedHours          decimal.Decimal `json:"unused_hours"`
	RolloverRecordID     *uint64         `json:"rollover_record_id,omitempty"`
	RolloverExpiresAt    *time.Time      `json:"rollover_expires_at,omitempty"`
	ExpiredRolloverHours decimal.Decimal `json:"expired_rollover_hours"`
	ExpiredPackHours     decimal.Decimal `json:"expired_pack_hours"`
	AppliedTier          string          `json:"applied_tier,omitempty"`
}

// Outcome reports what RunRolloverForPlan did.
type Outcome struct {
	PlanID      uint64     `json:"plan_id"`
	Status      Status     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	Boundaries  []Boundary `json:"boundaries"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

// Options configures a Job.
type Options struct {
	Engine             *ledger.Engine
	Sink               notify.Sink
	LockWait           time.Duration
	PlanTimeout        time.Duration
	MaxCatchUp         int
	ExpiringSoonWindow time.Duration
}

// Job runs period rollovers.
type Job struct {
	engine         *ledger.Engine
	db             *gorm.DB
	sink           notify.Sink
	lockWait       time.Duration
	planTimeout    time.Duration
	maxCatchUp     int
	expiringWindow time.Duration
}

// NewJob constructs a rollover job.
func NewJob(opts Options) (*Job, error) {
	if opts.Engine == nil {
		return nil, errors.New("rollover: nil engine")
	}
	j := &Job{
		engine:         opts.Engine,
		db:             opts.Engine.DB(),
		sink:           opts.Sink,
		lockWait:       opts.LockWait,
		planTimeout:    opts.PlanTimeout,
		maxCatchUp:     opts.MaxCatchUp,
		expiringWindow: opts.ExpiringSoonWindow,
	}
	if j.sink == nil {
		j.sink = notify.Nop{}
	}
	if j.lockWait <= 0 {
		j.lockWait = settings.DefaultRolloverLockWait
	}
	if j.planTimeout <= 0 {
		j.planTimeout = settings.DefaultRolloverPlanTimeout
	}
	if j.maxCatchUp <= 0 {
		j.maxCatchUp = settings.DefaultRolloverMaxCatchUp
	}
	if j.expiringWindow <= 0 {
		j.expiringWindow = settings.DefaultExpiringSoonWindow
	}
	return j, nil
}

// RunRolloverForPlan processes every ended period of the plan up to the catch-up cap.
// Each boundary commits in its own transaction, so reruns resume where a failure stopped.
func (j *Job) RunRolloverForPlan(ctx context.Context, planID uint64, now time.Time) (Outcome, error) {
	if now.IsZero() {
		now = j.engine.Now()
	}
	now = now.UTC()
	outcome := Outcome{PlanID: planID, Boundaries: []Boundary{}}

	for i := 0; i < j.maxCatchUp; i++ {
		step, errStep := j.rollOnce(ctx, planID, now)
		if errStep != nil {
			var invariant *ledger.InvariantError
			if errors.As(errStep, &invariant) {
				j.emit(notify.Event{Type: notify.EventInvariantViolation, PlanID: planID, Detail: invariant.Detail, OccurredAt: now})
			}
			if len(outcome.Boundaries) > 0 {
				outcome.Status = StatusRolled
			}
			return outcome, errStep
		}
		outcome.PeriodStart = step.periodStart
		outcome.PeriodEnd = step.periodEnd
		if step.status != StatusRolled {
			if len(outcome.Boundaries) == 0 {
				outcome.Status = step.status
				outcome.Reason = step.reason
			}
			return outcome, nil
		}
		outcome.Status = StatusRolled
		outcome.Boundaries = append(outcome.Boundaries, step.boundary)
		j.announce(planID, step)
	}

	log.WithFields(log.Fields{
		"plan_id":    planID,
		"boundaries": len(outcome.Boundaries),
	}).Warn("rollover: catch-up cap reached, remaining boundaries run on the next sweep")
	return outcome, nil
}

type stepResult struct {
	status      Status
	reason      string
	boundary    Boundary
	projectID   uint64
	periodStart *time.Time
	periodEnd   *time.Time
}

func (j *Job) rollOnce(ctx context.Context, planID uint64, now time.Time) (stepResult, error) {
	var step stepResult
	errMutate := j.engine.Mutate(ctx, planID, j.lockWait, func(tx *gorm.DB) error {
		step = stepResult{}
		plan, errPlan := ledger.LoadPlanForUpdate(tx, planID)
		if errPlan != nil {
			return errPlan
		}
		step.projectID = plan.ProjectID
		step.periodStart = plan.CurrentPeriodStart
		step.periodEnd = plan.CurrentPeriodEnd

		switch {
		case !plan.HasPeriod():
			step.status, step.reason = StatusSkipped, "plan has no billing period"
			return nil
		case plan.Status != models.PlanStatusActive && plan.Status != models.PlanStatusPaused:
			step.status, step.reason = StatusSkipped, fmt.Sprintf("plan status %s", plan.Status)
			return nil
		}

		window := period.Window{Start: plan.CurrentPeriodStart.UTC(), End: plan.CurrentPeriodEnd.UTC()}
		if now.Before(window.End) {
			rolled, errRolled := markerExists(tx, plan.ID, window.Start)
			if errRolled != nil {
				return errRolled
			}
			step.status = StatusNotDue
			if rolled {
				step.status = StatusAlreadyRolled
			}
			return nil
		}

		rolled, errRolled := markerExists(tx, plan.ID, window.End)
		if errRolled != nil {
			return errRolled
		}
		if rolled {
			return &ledger.InvariantError{PlanID: plan.ID, Detail: fmt.Sprintf("period ending %s already rolled but window not advanced", window.End.Format(time.RFC3339))}
		}

		boundary, errClose := j.closePeriod(tx, &plan, window, now)
		if errClose != nil {
			return errClose
		}
		step.status = StatusRolled
		step.boundary = boundary
		step.periodStart = plan.CurrentPeriodStart
		step.periodEnd = plan.CurrentPeriodEnd
		return nil
	})
	if errMutate != nil {
		return stepResult{}, errMutate
	}
	return step, nil
}

// closePeriod applies one boundary to a locked plan.
func (j *Job) closePeriod(tx *gorm.DB, plan *models.MaintenancePlan, window period.Window, now time.Time) (Boundary, error) {
	next := period.Next(window, plan.BillingDay)
	unused := plan.MonthlyRemaining()
	unlimited := j.engine.Tiers().IsUnlimited(plan.Tier)
	boundary := Boundary{
		PeriodStart:          window.Start,
		PeriodEnd:            window.End,
		UnusedHours:          unused,
		ExpiredRolloverHours: decimal.Zero,
		ExpiredPackHours:     decimal.Zero,
	}
	var entries []models.LedgerEntry
	opID := uuid.NewString()

	if plan.RolloverEnabled && plan.Status == models.PlanStatusActive && !unlimited && unused.IsPositive() {
		record := models.RolloverRecord{
			PlanID:            plan.ID,
			Hours:             unused,
			HoursRemaining:    unused,
			ExpiresAt:         next.End,
			SourcePeriodStart: window.Start,
			SourcePeriodEnd:   window.End,
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return Boundary{}, fmt.Errorf("rollover: create record: %w", errCreate)
		}
		recordID := record.ID
		expiresAt := record.ExpiresAt
		boundary.RolloverRecordID = &recordID
		boundary.RolloverExpiresAt = &expiresAt
		entries = append(entries, models.LedgerEntry{
			PlanID:      plan.ID,
			OperationID: opID,
			Kind:        models.LedgerEntryRolloverGrant,
			PoolKind:    models.PoolRollover,
			PoolID:      &recordID,
			Hours:       unused,
			Metadata:    ledger.EntryMetadata(map[string]any{"source_period_end": window.End.Format(time.RFC3339)}),
			OccurredAt:  now,
		})
	}

	expiredRollovers, rolloverEntries, errRollovers := sweepRollovers(tx, plan.ID, opID, now)
	if errRollovers != nil {
		return Boundary{}, errRollovers
	}
	boundary.ExpiredRolloverHours = expiredRollovers
	entries = append(entries, rolloverEntries...)

	expiredPacks, packEntries, errPacks := sweepPacks(tx, plan.ID, opID, now)
	if errPacks != nil {
		return Boundary{}, errPacks
	}
	boundary.ExpiredPackHours = expiredPacks
	entries = append(entries, packEntries...)

	updates := map[string]any{
		"support_hours_used":   decimal.Zero,
		"change_requests_used": 0,
		"current_period_start": next.Start,
		"current_period_end":   next.End,
	}
	if plan.NextTier != "" {
		if def, ok := j.engine.Tiers().Lookup(plan.NextTier); ok {
			updates["tier"] = def.Name
			updates["support_hours_included"] = def.SupportHours
			updates["change_requests_included"] = def.ChangeRequests
			plan.Tier = def.Name
			plan.SupportHoursIncluded = def.SupportHours
			plan.ChangeRequestsIncluded = def.ChangeRequests
			boundary.AppliedTier = def.Name
		} else {
			log.WithFields(log.Fields{"plan_id": plan.ID, "tier": plan.NextTier}).Warn("rollover: dropping unknown pending tier")
		}
		updates["next_tier"] = ""
		plan.NextTier = ""
	}
	if errCAS := ledger.UpdatePlanCAS(tx, plan, updates, now); errCAS != nil {
		return Boundary{}, errCAS
	}
	plan.SupportHoursUsed = decimal.Zero
	plan.ChangeRequestsUsed = 0
	plan.CurrentPeriodStart = &next.Start
	plan.CurrentPeriodEnd = &next.End

	if errEntries := ledger.AppendEntries(tx, entries); errEntries != nil {
		return Boundary{}, errEntries
	}

	run := models.RolloverRun{
		PlanID:               plan.ID,
		PeriodStart:          window.Start,
		PeriodEnd:            window.End,
		UnusedHours:          unused,
		RolloverRecordID:     boundary.RolloverRecordID,
		ExpiredRolloverHours: boundary.ExpiredRolloverHours,
		ExpiredPackHours:     boundary.ExpiredPackHours,
		ProcessedAt:          now,
	}
	if errRun := tx.Create(&run).Error; errRun != nil {
		return Boundary{}, fmt.Errorf("rollover: insert marker: %w", errRun)
	}
	return boundary, nil
}

func sweepRollovers(tx *gorm.DB, planID uint64, opID string, now time.Time) (decimal.Decimal, []models.LedgerEntry, error) {
	var records []models.RolloverRecord
	if errFind := tx.Where("plan_id = ? AND is_expired = ?", planID, false).Find(&records).Error; errFind != nil {
		return decimal.Zero, nil, fmt.Errorf("rollover: load rollovers: %w", errFind)
	}
	forfeited := decimal.Zero
	var ids []uint64
	var entries []models.LedgerEntry
	for _, r := range records {
		if !r.ExpiredAt(now) {
			continue
		}
		ids = append(ids, r.ID)
		if !r.HoursRemaining.IsPositive() {
			continue
		}
		forfeited = forfeited.Add(r.HoursRemaining)
		recordID := r.ID
		entries = append(entries, models.LedgerEntry{
			PlanID:      planID,
			OperationID: opID,
			Kind:        models.LedgerEntryExpiry,
			PoolKind:    models.PoolRollover,
			PoolID:      &recordID,
			Hours:       r.HoursRemaining.Neg(),
			OccurredAt:  now,
		})
	}
	if errExpire := ledger.ExpireRollovers(tx, ids, now); errExpire != nil {
		return decimal.Zero, nil, errExpire
	}
	return forfeited, entries, nil
}

func sweepPacks(tx *gorm.DB, planID uint64, opID string, now time.Time) (decimal.Decimal, []models.LedgerEntry, error) {
	var packs []models.HourPack
	if errFind := tx.Where("plan_id = ? AND is_active = ? AND never_expires = ?", planID, true, false).Find(&packs).Error; errFind != nil {
		return decimal.Zero, nil, fmt.Errorf("rollover: load packs: %w", errFind)
	}
	forfeited := decimal.Zero
	var ids []uint64
	var entries []models.LedgerEntry
	for _, p := range packs {
		if !p.ExpiredAt(now) {
			continue
		}
		ids = append(ids, p.ID)
		if !p.HoursRemaining.IsPositive() {
			continue
		}
		forfeited = forfeited.Add(p.HoursRemaining)
		packID := p.ID
		entries = append(entries, models.LedgerEntry{
			PlanID:      planID,
			OperationID: opID,
			Kind:        models.LedgerEntryExpiry,
			PoolKind:    models.PoolPack,
			PoolID:      &packID,
			Hours:       p.HoursRemaining.Neg(),
			OccurredAt:  now,
		})
	}
	if errDeactivate := ledger.DeactivatePacks(tx, ids, now); errDeactivate != nil {
		return decimal.Zero, nil, errDeactivate
	}
	return forfeited, entries, nil
}

func markerExists(tx *gorm.DB, planID uint64, periodEnd time.Time) (bool, error) {
	var count int64
	if errCount := tx.Model(&models.RolloverRun{}).
		Where("plan_id = ? AND period_end = ?", planID, periodEnd.UTC()).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("rollover: check marker: %w", errCount)
	}
	return count > 0, nil
}

func (j *Job) announce(planID uint64, step stepResult) {
	b := step.boundary
	if b.RolloverRecordID == nil {
		return
	}
	j.emit(notify.Event{
		Type:       notify.EventRolloverCreated,
		PlanID:     planID,
		ProjectID:  step.projectID,
		Hours:      b.UnusedHours,
		PoolKind:   string(models.PoolRollover),
		PoolID:     *b.RolloverRecordID,
		ExpiresAt:  b.RolloverExpiresAt,
		OccurredAt: b.PeriodEnd,
	})
}

func (j *Job) emit(event notify.Event) {
	if errNotify := j.sink.Notify(context.Background(), event); errNotify != nil {
		log.WithError(errNotify).WithField("event", string(event.Type)).Warn("rollover: notify failed")
	}
}
