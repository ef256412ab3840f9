package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/period"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Source names the model a PlanView was built from.
type Source string

// Source constants.
const (
	SourcePlan   Source = "maintenance_plan"
	SourceLegacy Source = "legacy_subscription"
)

// ChangeRequestQuota is the change request allowance of the current period.
type ChangeRequestQuota struct {
	Included  int  `json:"included"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"` // -1 when unlimited.
	Unlimited bool `json:"unlimited"`
}

// PoolView describes one usable pool for read views.
type PoolView struct {
	Kind         models.PoolKind `json:"kind"`
	ID           uint64          `json:"id,omitempty"`
	Label        string          `json:"label,omitempty"`
	Hours        decimal.Decimal `json:"hours"`
	Remaining    decimal.Decimal `json:"remaining"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	NeverExpires bool            `json:"never_expires"`
}

// PlanView is the canonical read model of a project's support hours, whichever
// model backs it.
type PlanView struct {
	Source          Source             `json:"source"`
	ProjectID       uint64             `json:"project_id"`
	PlanID          uint64             `json:"plan_id,omitempty"`
	Tier            string             `json:"tier"`
	Status          string             `json:"status"`
	RolloverEnabled bool               `json:"rollover_enabled"`
	PeriodStart     *time.Time         `json:"period_start,omitempty"`
	PeriodEnd       *time.Time         `json:"period_end,omitempty"`
	Balance         Balance            `json:"balance"`
	ChangeRequests  ChangeRequestQuota `json:"change_requests"`
	Pools           []PoolView         `json:"pools"`
}

// BuildPlanView assembles the read model of a maintenance plan at at.
func BuildPlanView(plan models.MaintenancePlan, rollovers []models.RolloverRecord, packs []models.HourPack, at time.Time, unlimited bool) PlanView {
	view := PlanView{
		Source:          SourcePlan,
		ProjectID:       plan.ProjectID,
		PlanID:          plan.ID,
		Tier:            plan.Tier,
		Status:          string(plan.Status),
		RolloverEnabled: plan.RolloverEnabled,
		PeriodStart:     plan.CurrentPeriodStart,
		PeriodEnd:       plan.CurrentPeriodEnd,
		ChangeRequests:  quotaFor(plan.ChangeRequestsIncluded, plan.ChangeRequestsUsed),
		Pools:           []PoolView{},
	}
	if unlimited {
		view.Balance = unlimitedBalance(plan.ID, at)
		return view
	}

	set := classifyPools(plan, rollovers, packs, at)
	view.Balance = balanceFromSet(plan.ID, set, at)

	view.Pools = append(view.Pools, PoolView{
		Kind:      models.PoolMonthly,
		Label:     plan.Tier,
		Hours:     plan.SupportHoursIncluded,
		Remaining: set.monthly,
		ExpiresAt: plan.CurrentPeriodEnd,
	})
	for _, r := range rollovers {
		if !r.AvailableAt(at).IsPositive() {
			continue
		}
		expiresAt := r.ExpiresAt
		view.Pools = append(view.Pools, PoolView{
			Kind:      models.PoolRollover,
			ID:        r.ID,
			Label:     r.SourcePeriodStart.Format("2006-01"),
			Hours:     r.Hours,
			Remaining: r.HoursRemaining,
			ExpiresAt: &expiresAt,
		})
	}
	for _, p := range packs {
		if !p.AvailableAt(at).IsPositive() {
			continue
		}
		pv := PoolView{
			Kind:         models.PoolPack,
			ID:           p.ID,
			Label:        p.PackType,
			Hours:        p.Hours,
			Remaining:    p.HoursRemaining,
			NeverExpires: !p.Expires(),
		}
		if p.Expires() {
			pv.ExpiresAt = p.ExpiresAt
		}
		view.Pools = append(view.Pools, pv)
	}
	return view
}

// legacyView maps a single-pool legacy subscription onto the three-pool view: its one
// balance becomes the monthly allowance and the other pools are empty.
func legacyView(sub models.LegacySubscription, at time.Time, unlimited bool) PlanView {
	included := sub.HoursIncluded
	if included.IsNegative() {
		included = decimal.Zero
	}
	remaining := included.Sub(sub.HoursUsed)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	view := PlanView{
		Source:         SourceLegacy,
		ProjectID:      sub.ProjectID,
		Tier:           sub.Tier,
		Status:         strings.ToUpper(strings.TrimSpace(sub.Status)),
		PeriodEnd:      sub.PeriodEnd,
		ChangeRequests: quotaFor(0, 0),
		Pools:          []PoolView{},
	}
	if unlimited {
		view.Balance = unlimitedBalance(0, at)
		return view
	}
	view.Balance = Balance{
		MonthlyRemaining:  remaining,
		RolloverRemaining: decimal.Zero,
		PacksRemaining:    decimal.Zero,
		Total:             remaining,
		At:                at,
	}
	view.Pools = append(view.Pools, PoolView{
		Kind:      models.PoolMonthly,
		Label:     sub.Tier,
		Hours:     included,
		Remaining: remaining,
		ExpiresAt: sub.PeriodEnd,
	})
	return view
}

func quotaFor(included, used int) ChangeRequestQuota {
	if included == models.UnlimitedChangeRequests {
		return ChangeRequestQuota{Included: included, Used: used, Remaining: -1, Unlimited: true}
	}
	remaining := included - used
	if remaining < 0 {
		remaining = 0
	}
	return ChangeRequestQuota{Included: included, Used: used, Remaining: remaining}
}

// PlanView loads a plan and builds its read model at at. A zero at means now.
func (e *Engine) PlanView(ctx context.Context, planID uint64, at time.Time) (PlanView, error) {
	at = e.normalizeAt(at)
	var view PlanView
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.MaintenancePlan
		if errFind := tx.Where("id = ?", planID).Take(&plan).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("ledger: load plan %d: %w", planID, errFind)
		}
		built, errBuild := e.viewOf(tx, plan, at)
		view = built
		return errBuild
	})
	if errTx != nil {
		return PlanView{}, errTx
	}
	return view, nil
}

// ResolveProject returns the support view of a project, preferring its maintenance plan
// and falling back to a legacy subscription.
func (e *Engine) ResolveProject(ctx context.Context, projectID uint64, at time.Time) (PlanView, error) {
	at = e.normalizeAt(at)
	var view PlanView
	errTx := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var plan models.MaintenancePlan
		errPlan := tx.Where("project_id = ?", projectID).Take(&plan).Error
		if errPlan == nil {
			built, errBuild := e.viewOf(tx, plan, at)
			view = built
			return errBuild
		}
		if !errors.Is(errPlan, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: load plan for project %d: %w", projectID, errPlan)
		}

		var sub models.LegacySubscription
		errLegacy := tx.Where("project_id = ?", projectID).Take(&sub).Error
		if errLegacy != nil {
			if errors.Is(errLegacy, gorm.ErrRecordNotFound) {
				return ErrPlanNotFound
			}
			return fmt.Errorf("ledger: load legacy subscription for project %d: %w", projectID, errLegacy)
		}
		view = legacyView(sub, at, e.tiers.IsUnlimited(sub.Tier))
		return nil
	})
	if errTx != nil {
		return PlanView{}, errTx
	}
	return view, nil
}

func (e *Engine) viewOf(tx *gorm.DB, plan models.MaintenancePlan, at time.Time) (PlanView, error) {
	var rollovers []models.RolloverRecord
	if errRollovers := tx.Where("plan_id = ? AND is_expired = ?", plan.ID, false).
		Order("expires_at ASC, id ASC").
		Find(&rollovers).Error; errRollovers != nil {
		return PlanView{}, fmt.Errorf("ledger: load rollovers: %w", errRollovers)
	}
	var packs []models.HourPack
	if errPacks := tx.Where("plan_id = ? AND is_active = ?", plan.ID, true).
		Order("purchased_at ASC, id ASC").
		Find(&packs).Error; errPacks != nil {
		return PlanView{}, fmt.Errorf("ledger: load packs: %w", errPacks)
	}
	return BuildPlanView(plan, rollovers, packs, at, e.tiers.IsUnlimited(plan.Tier)), nil
}

func currentWindow(plan models.MaintenancePlan) period.Window {
	if !plan.HasPeriod() {
		return period.Window{}
	}
	return period.Window{Start: plan.CurrentPeriodStart.UTC(), End: plan.CurrentPeriodEnd.UTC()}
}

func previousStart(plan models.MaintenancePlan) time.Time {
	return period.Previous(currentWindow(plan), plan.BillingDay).Start
}
