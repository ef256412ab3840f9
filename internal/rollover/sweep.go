package rollover

import (
	"context"
	"fmt"
	"time"

	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// SweepReport summarizes one RunDue pass.
type SweepReport struct {
	Checked    int `json:"checked"`
	Rolled     int `json:"rolled"`
	Boundaries int `json:"boundaries"`
	Failed     int `json:"failed"`
}

// RunDue rolls every ACTIVE or PAUSED plan whose period has ended. A failing plan is
// logged and left for the next sweep.
func (j *Job) RunDue(ctx context.Context, now time.Time) (SweepReport, error) {
	if now.IsZero() {
		now = j.engine.Now()
	}
	now = now.UTC()

	var candidates []models.MaintenancePlan
	if errFind := j.db.WithContext(ctx).
		Select("id", "current_period_end").
		Where("status IN ? AND current_period_end IS NOT NULL", []models.PlanStatus{models.PlanStatusActive, models.PlanStatusPaused}).
		Order("id ASC").
		Find(&candidates).Error; errFind != nil {
		return SweepReport{}, fmt.Errorf("rollover: list plans: %w", errFind)
	}

	var report SweepReport
	for _, plan := range candidates {
		if plan.CurrentPeriodEnd == nil || now.Before(plan.CurrentPeriodEnd.UTC()) {
			continue
		}
		if errCtx := ctx.Err(); errCtx != nil {
			return report, errCtx
		}
		report.Checked++

		planCtx, cancel := context.WithTimeout(ctx, j.planTimeout)
		outcome, errRun := j.RunRolloverForPlan(planCtx, plan.ID, now)
		cancel()

		report.Boundaries += len(outcome.Boundaries)
		if outcome.Status == StatusRolled {
			report.Rolled++
		}
		if errRun != nil {
			report.Failed++
			log.WithError(errRun).WithField("plan_id", plan.ID).Warn("rollover: plan failed, retrying next sweep")
		}
	}
	if report.Checked > 0 {
		log.WithFields(log.Fields{
			"checked":    report.Checked,
			"rolled":     report.Rolled,
			"boundaries": report.Boundaries,
			"failed":     report.Failed,
		}).Info("rollover: sweep finished")
	}
	return report, nil
}

// NotifyExpiring emits one expiring-soon event per rollover record or pack whose expiry
// falls within the configured window, and stamps it so it is announced once.
func (j *Job) NotifyExpiring(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = j.engine.Now()
	}
	now = now.UTC()
	horizon := now.Add(j.expiringWindow)
	conn := j.db.WithContext(ctx)

	var records []models.RolloverRecord
	if errFind := conn.Where("is_expired = ? AND expiry_notified_at IS NULL", false).Find(&records).Error; errFind != nil {
		return 0, fmt.Errorf("rollover: list expiring rollovers: %w", errFind)
	}
	var packs []models.HourPack
	if errFind := conn.Where("is_active = ? AND never_expires = ? AND expires_at IS NOT NULL AND expiry_notified_at IS NULL", true, false).Find(&packs).Error; errFind != nil {
		return 0, fmt.Errorf("rollover: list expiring packs: %w", errFind)
	}

	var events []notify.Event
	var rolloverIDs, packIDs []uint64
	planIDs := make(map[uint64]struct{})
	for _, r := range records {
		if r.AvailableAt(now).IsPositive() && !r.ExpiresAt.After(horizon) {
			expiresAt := r.ExpiresAt
			events = append(events, expiringEvent(r.PlanID, models.PoolRollover, r.ID, r.HoursRemaining, &expiresAt, now))
			rolloverIDs = append(rolloverIDs, r.ID)
			planIDs[r.PlanID] = struct{}{}
		}
	}
	for _, p := range packs {
		if p.AvailableAt(now).IsPositive() && !p.ExpiresAt.After(horizon) {
			events = append(events, expiringEvent(p.PlanID, models.PoolPack, p.ID, p.HoursRemaining, p.ExpiresAt, now))
			packIDs = append(packIDs, p.ID)
			planIDs[p.PlanID] = struct{}{}
		}
	}
	if len(events) == 0 {
		return 0, nil
	}

	projects := make(map[uint64]uint64, len(planIDs))
	ids := make([]uint64, 0, len(planIDs))
	for id := range planIDs {
		ids = append(ids, id)
	}
	var owners []models.MaintenancePlan
	if errFind := conn.Select("id", "project_id").Where("id IN ?", ids).Find(&owners).Error; errFind != nil {
		return 0, fmt.Errorf("rollover: load plan owners: %w", errFind)
	}
	for _, owner := range owners {
		projects[owner.ID] = owner.ProjectID
	}

	if len(rolloverIDs) > 0 {
		if errUpdate := conn.Model(&models.RolloverRecord{}).Where("id IN ?", rolloverIDs).
			Update("expiry_notified_at", now).Error; errUpdate != nil {
			return 0, fmt.Errorf("rollover: stamp rollovers: %w", errUpdate)
		}
	}
	if len(packIDs) > 0 {
		if errUpdate := conn.Model(&models.HourPack{}).Where("id IN ?", packIDs).
			Update("expiry_notified_at", now).Error; errUpdate != nil {
			return 0, fmt.Errorf("rollover: stamp packs: %w", errUpdate)
		}
	}
	for _, event := range events {
		event.ProjectID = projects[event.PlanID]
		j.emit(event)
	}
	return len(events), nil
}

func expiringEvent(planID uint64, kind models.PoolKind, poolID uint64, hours decimal.Decimal, expiresAt *time.Time, now time.Time) notify.Event {
	return notify.Event{
		Type:       notify.EventExpiringSoon,
		PlanID:     planID,
		Hours:      hours,
		PoolKind:   string(kind),
		PoolID:     poolID,
		ExpiresAt:  expiresAt,
		OccurredAt: now,
	}
}
