// Package provisioning creates maintenance plans at checkout, activates them on payment
// confirmation and handles the pause, resume, cancel and rollover toggles.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/notify"
	"github.com/router-for-me/supporthours/internal/period"
	"github.com/router-for-me/supporthours/internal/settings"
	"github.com/router-for-me/supporthours/internal/tiers"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrPlanExists is returned by StartCheckout when the project already has a non-pending plan.
	ErrPlanExists = errors.New("provisioning: project already has a plan")
	// ErrInvalidTransition is returned when the lifecycle move is not allowed.
	ErrInvalidTransition = errors.New("provisioning: invalid status transition")
)

// Service owns the plan lifecycle.
type Service struct {
	engine   *ledger.Engine
	sink     notify.Sink
	lockWait time.Duration
}

// NewService constructs a provisioning service.
func NewService(engine *ledger.Engine, sink notify.Sink, lockWait time.Duration) *Service {
	if sink == nil {
		sink = notify.Nop{}
	}
	if lockWait <= 0 {
		lockWait = settings.DefaultLockWait
	}
	return &Service{engine: engine, sink: sink, lockWait: lockWait}
}

// CheckoutRequest reserves a plan before payment.
type CheckoutRequest struct {
	ProjectID  uint64
	Tier       string
	BillingDay int
}

// StartCheckout creates a PENDING plan for the project, or refreshes the tier of an
// existing PENDING plan.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest) (models.MaintenancePlan, error) {
	if req.ProjectID == 0 {
		return models.MaintenancePlan{}, fmt.Errorf("%w: project id is required", ledger.ErrInvalidInput)
	}
	def, errTier := s.lookupTier(req.Tier)
	if errTier != nil {
		return models.MaintenancePlan{}, errTier
	}
	billingDay := period.NormalizeBillingDay(req.BillingDay)

	existing, found, errFind := s.findByProject(ctx, req.ProjectID)
	if errFind != nil {
		return models.MaintenancePlan{}, errFind
	}
	if found {
		if existing.Status != models.PlanStatusPending {
			return existing, ErrPlanExists
		}
		var updated models.MaintenancePlan
		errRun := s.mutate(ctx, existing.ID, func(tx *gorm.DB, plan *models.MaintenancePlan) error {
			if plan.Status != models.PlanStatusPending {
				return ErrPlanExists
			}
			applyTierDefaults(plan, def)
			plan.BillingDay = billingDay
			if errCAS := ledger.UpdatePlanCAS(tx, plan, tierUpdates(*plan, map[string]any{"billing_day": billingDay}), s.engine.Now()); errCAS != nil {
				return errCAS
			}
			updated = *plan
			return nil
		})
		return updated, errRun
	}

	plan := models.MaintenancePlan{
		ProjectID:  req.ProjectID,
		Status:     models.PlanStatusPending,
		BillingDay: billingDay,
	}
	applyTierDefaults(&plan, def)
	if errCreate := s.engine.DB().WithContext(ctx).Create(&plan).Error; errCreate != nil {
		return models.MaintenancePlan{}, fmt.Errorf("provisioning: create plan: %w", errCreate)
	}
	return plan, nil
}

// PaymentConfirmed is the external payment-confirmed event.
type PaymentConfirmed struct {
	EventID    string
	ProjectID  uint64
	Tier       string
	OccurredAt time.Time
}

// Activation reports what HandlePaymentConfirmed did.
type Activation struct {
	Plan         models.MaintenancePlan `json:"plan"`
	Created      bool                   `json:"created"`
	Duplicate    bool                   `json:"duplicate"`
	TierDeferred bool                   `json:"tier_deferred"`
}

// HandlePaymentConfirmed activates or updates the project's plan. Replayed event ids are
// no-ops. A tier change on a running plan takes effect at the next period boundary.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, event PaymentConfirmed) (Activation, error) {
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		return Activation{}, fmt.Errorf("%w: event id is required", ledger.ErrInvalidInput)
	}
	if event.ProjectID == 0 {
		return Activation{}, fmt.Errorf("%w: project id is required", ledger.ErrInvalidInput)
	}
	def, errTier := s.lookupTier(event.Tier)
	if errTier != nil {
		return Activation{}, errTier
	}
	now := event.OccurredAt
	if now.IsZero() {
		now = s.engine.Now()
	}
	now = now.UTC()

	if dup, ok, errDup := s.duplicate(ctx, eventID); errDup != nil || ok {
		return dup, errDup
	}

	existing, found, errFind := s.findByProject(ctx, event.ProjectID)
	if errFind != nil {
		return Activation{}, errFind
	}
	var result Activation
	var errRun error
	if found {
		result, errRun = s.updateExisting(ctx, existing.ID, eventID, def, now)
	} else {
		result, errRun = s.createActive(ctx, event.ProjectID, eventID, def, now)
	}
	if errRun != nil {
		if dup, ok, errDup := s.duplicate(ctx, eventID); errDup == nil && ok {
			return dup, nil
		}
		return Activation{}, errRun
	}

	if result.Created || !result.TierDeferred {
		s.emit(notify.Event{
			Type:       notify.EventPlanActivated,
			PlanID:     result.Plan.ID,
			ProjectID:  result.Plan.ProjectID,
			Hours:      result.Plan.SupportHoursIncluded,
			Detail:     result.Plan.Tier,
			OccurredAt: now,
		})
	}
	return result, nil
}

func (s *Service) createActive(ctx context.Context, projectID uint64, eventID string, def tiers.Definition, now time.Time) (Activation, error) {
	var result Activation
	errTx := s.engine.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plan := models.MaintenancePlan{
			ProjectID:  projectID,
			Status:     models.PlanStatusPaused,
			BillingDay: 1,
		}
		applyTierDefaults(&plan, def)
		if errCreate := tx.Create(&plan).Error; errCreate != nil {
			return fmt.Errorf("provisioning: create plan: %w", errCreate)
		}
		if errActivate := activate(tx, &plan, now); errActivate != nil {
			return errActivate
		}
		if errRecord := recordEvent(tx, eventID, plan, now); errRecord != nil {
			return errRecord
		}
		result = Activation{Plan: plan, Created: true}
		return nil
	})
	if errTx != nil {
		return Activation{}, errTx
	}
	log.WithFields(log.Fields{"plan_id": result.Plan.ID, "project_id": projectID, "tier": def.Name}).Info("provisioning: plan activated")
	return result, nil
}

func (s *Service) updateExisting(ctx context.Context, planID uint64, eventID string, def tiers.Definition, now time.Time) (Activation, error) {
	var result Activation
	errRun := s.mutate(ctx, planID, func(tx *gorm.DB, plan *models.MaintenancePlan) error {
		result = Activation{}
		running := plan.HasPeriod() && (plan.Status == models.PlanStatusActive || plan.Status == models.PlanStatusPaused)
		if running {
			updates := map[string]any{}
			if def.Name == plan.Tier {
				plan.NextTier = ""
			} else {
				plan.NextTier = def.Name
				result.TierDeferred = true
			}
			updates["next_tier"] = plan.NextTier
			if plan.Status == models.PlanStatusPaused {
				plan.Status = models.PlanStatusActive
				updates["status"] = plan.Status
			}
			if errCAS := ledger.UpdatePlanCAS(tx, plan, updates, now); errCAS != nil {
				return errCAS
			}
		} else {
			applyTierDefaults(plan, def)
			plan.SupportHoursUsed = decimal.Zero
			plan.ChangeRequestsUsed = 0
			plan.NextTier = ""
			if errActivate := activate(tx, plan, now); errActivate != nil {
				return errActivate
			}
		}
		if errRecord := recordEvent(tx, eventID, *plan, now); errRecord != nil {
			return errRecord
		}
		result.Plan = *plan
		return nil
	})
	return result, errRun
}

// activate moves a plan to ACTIVE with a fresh window starting at now.
func activate(tx *gorm.DB, plan *models.MaintenancePlan, now time.Time) error {
	window := period.Activation(now, plan.BillingDay)
	plan.Status = models.PlanStatusActive
	plan.CurrentPeriodStart = &window.Start
	plan.CurrentPeriodEnd = &window.End
	plan.CancelledAt = nil
	if plan.ActivatedAt == nil {
		plan.ActivatedAt = &now
	}
	return ledger.UpdatePlanCAS(tx, plan, tierUpdates(*plan, map[string]any{
		"status":               plan.Status,
		"support_hours_used":   plan.SupportHoursUsed,
		"change_requests_used": plan.ChangeRequestsUsed,
		"next_tier":            plan.NextTier,
		"current_period_start": window.Start,
		"current_period_end":   window.End,
		"activated_at":         *plan.ActivatedAt,
		"cancelled_at":         nil,
	}), now)
}

func recordEvent(tx *gorm.DB, eventID string, plan models.MaintenancePlan, now time.Time) error {
	event := models.ActivationEvent{
		EventID:     eventID,
		ProjectID:   plan.ProjectID,
		PlanID:      plan.ID,
		Tier:        plan.Tier,
		ProcessedAt: now,
	}
	if errCreate := tx.Create(&event).Error; errCreate != nil {
		return fmt.Errorf("provisioning: record activation event: %w", errCreate)
	}
	return nil
}

func (s *Service) duplicate(ctx context.Context, eventID string) (Activation, bool, error) {
	var seen models.ActivationEvent
	errFind := s.engine.DB().WithContext(ctx).Where("event_id = ?", eventID).Take(&seen).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return Activation{}, false, nil
	}
	if errFind != nil {
		return Activation{}, false, fmt.Errorf("provisioning: check activation event: %w", errFind)
	}
	var plan models.MaintenancePlan
	if errPlan := s.engine.DB().WithContext(ctx).Where("id = ?", seen.PlanID).Take(&plan).Error; errPlan != nil {
		return Activation{}, false, fmt.Errorf("provisioning: load activated plan: %w", errPlan)
	}
	return Activation{Plan: plan, Duplicate: true}, true, nil
}

// Pause moves an ACTIVE plan to PAUSED.
func (s *Service) Pause(ctx context.Context, planID uint64) (models.MaintenancePlan, error) {
	return s.setStatus(ctx, planID, models.PlanStatusPaused, models.PlanStatusActive)
}

// Resume moves a PAUSED plan back to ACTIVE.
func (s *Service) Resume(ctx context.Context, planID uint64) (models.MaintenancePlan, error) {
	return s.setStatus(ctx, planID, models.PlanStatusActive, models.PlanStatusPaused)
}

// Cancel terminates the plan. Granted pools are kept.
func (s *Service) Cancel(ctx context.Context, planID uint64) (models.MaintenancePlan, error) {
	return s.setStatus(ctx, planID, models.PlanStatusCancelled,
		models.PlanStatusPending, models.PlanStatusActive, models.PlanStatusPaused)
}

func (s *Service) setStatus(ctx context.Context, planID uint64, to models.PlanStatus, from ...models.PlanStatus) (models.MaintenancePlan, error) {
	var updated models.MaintenancePlan
	errRun := s.mutate(ctx, planID, func(tx *gorm.DB, plan *models.MaintenancePlan) error {
		allowed := false
		for _, status := range from {
			if plan.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, plan.Status, to)
		}
		now := s.engine.Now()
		updates := map[string]any{"status": to}
		if to == models.PlanStatusCancelled {
			updates["cancelled_at"] = now
			plan.CancelledAt = &now
		}
		plan.Status = to
		if errCAS := ledger.UpdatePlanCAS(tx, plan, updates, now); errCAS != nil {
			return errCAS
		}
		updated = *plan
		return nil
	})
	if errRun != nil {
		return models.MaintenancePlan{}, errRun
	}
	log.WithFields(log.Fields{"plan_id": planID, "status": to}).Info("provisioning: plan status changed")
	return updated, nil
}

// SetRolloverEnabled toggles rollover creation from the next boundary on. Existing
// rollover records keep their expiry.
func (s *Service) SetRolloverEnabled(ctx context.Context, planID uint64, enabled bool) (models.MaintenancePlan, error) {
	var updated models.MaintenancePlan
	errRun := s.mutate(ctx, planID, func(tx *gorm.DB, plan *models.MaintenancePlan) error {
		plan.RolloverEnabled = enabled
		if errCAS := ledger.UpdatePlanCAS(tx, plan, map[string]any{"rollover_enabled": enabled}, s.engine.Now()); errCAS != nil {
			return errCAS
		}
		updated = *plan
		return nil
	})
	return updated, errRun
}

func (s *Service) mutate(ctx context.Context, planID uint64, fn func(tx *gorm.DB, plan *models.MaintenancePlan) error) error {
	return s.engine.Retry(ctx, func() error {
		return s.engine.Mutate(ctx, planID, s.lockWait, func(tx *gorm.DB) error {
			plan, errPlan := ledger.LoadPlanForUpdate(tx, planID)
			if errPlan != nil {
				return errPlan
			}
			return fn(tx, &plan)
		})
	})
}

func (s *Service) findByProject(ctx context.Context, projectID uint64) (models.MaintenancePlan, bool, error) {
	var plan models.MaintenancePlan
	errFind := s.engine.DB().WithContext(ctx).Where("project_id = ?", projectID).Take(&plan).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.MaintenancePlan{}, false, nil
	}
	if errFind != nil {
		return models.MaintenancePlan{}, false, fmt.Errorf("provisioning: load plan for project %d: %w", projectID, errFind)
	}
	return plan, true, nil
}

func (s *Service) lookupTier(name string) (tiers.Definition, error) {
	def, ok := s.engine.Tiers().Lookup(name)
	if !ok {
		return tiers.Definition{}, fmt.Errorf("%w: unknown tier %q", ledger.ErrInvalidInput, name)
	}
	return def, nil
}

func applyTierDefaults(plan *models.MaintenancePlan, def tiers.Definition) {
	plan.Tier = def.Name
	plan.SupportHoursIncluded = def.SupportHours
	plan.ChangeRequestsIncluded = def.ChangeRequests
	plan.RolloverEnabled = def.RolloverEnabled
}

func tierUpdates(plan models.MaintenancePlan, updates map[string]any) map[string]any {
	updates["tier"] = plan.Tier
	updates["support_hours_included"] = plan.SupportHoursIncluded
	updates["change_requests_included"] = plan.ChangeRequestsIncluded
	updates["rollover_enabled"] = plan.RolloverEnabled
	return updates
}

func (s *Service) emit(event notify.Event) {
	if errNotify := s.sink.Notify(context.Background(), event); errNotify != nil {
		log.WithError(errNotify).WithField("event", string(event.Type)).Warn("provisioning: notify failed")
	}
}
