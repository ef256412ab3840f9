// Package changerequest tracks client change requests against the per-period quota.
package changerequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/supporthours/internal/ledger"
	"github.com/router-for-me/supporthours/internal/models"
	"github.com/router-for-me/supporthours/internal/settings"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no change request matches.
	ErrNotFound = errors.New("changerequest: not found")
	// ErrInvalidTransition is returned when the status move is not allowed.
	ErrInvalidTransition = errors.New("changerequest: invalid status transition")
)

const (
	maxTitleLength = 255
	defaultLimit   = 50
	maxLimit       = 200
)

// Tracker creates change requests and moves them through review.
type Tracker struct {
	engine   *ledger.Engine
	lockWait time.Duration
}

// NewTracker constructs a tracker sharing the engine's locks and database.
func NewTracker(engine *ledger.Engine, lockWait time.Duration) *Tracker {
	if lockWait <= 0 {
		lockWait = settings.DefaultLockWait
	}
	return &Tracker{engine: engine, lockWait: lockWait}
}

// CheckQuota passes for unlimited plans and while used < included.
func CheckQuota(plan models.MaintenancePlan) error {
	if plan.HasUnlimitedChangeRequests() {
		return nil
	}
	if plan.ChangeRequestsUsed < plan.ChangeRequestsIncluded {
		return nil
	}
	return fmt.Errorf("%w: %d of %d used", ledger.ErrQuotaExceeded, plan.ChangeRequestsUsed, plan.ChangeRequestsIncluded)
}

// CheckAndIncrement consumes one change request from the plan quota.
func (t *Tracker) CheckAndIncrement(ctx context.Context, planID uint64) error {
	return t.engine.Retry(ctx, func() error {
		return t.engine.Mutate(ctx, planID, t.lockWait, func(tx *gorm.DB) error {
			_, errIncrement := t.increment(tx, planID)
			return errIncrement
		})
	})
}

func (t *Tracker) increment(tx *gorm.DB, planID uint64) (models.MaintenancePlan, error) {
	plan, errPlan := ledger.LoadPlanForUpdate(tx, planID)
	if errPlan != nil {
		return models.MaintenancePlan{}, errPlan
	}
	if plan.Status != models.PlanStatusActive {
		return models.MaintenancePlan{}, fmt.Errorf("%w: status %s", ledger.ErrPlanNotActive, plan.Status)
	}
	if errQuota := CheckQuota(plan); errQuota != nil {
		return models.MaintenancePlan{}, errQuota
	}
	plan.ChangeRequestsUsed++
	if errCAS := ledger.UpdatePlanCAS(tx, &plan, map[string]any{"change_requests_used": plan.ChangeRequestsUsed}, t.engine.Now()); errCAS != nil {
		return models.MaintenancePlan{}, errCAS
	}
	return plan, nil
}

// CreateRequest describes a new change request.
type CreateRequest struct {
	PlanID      uint64
	Title       string
	Description string
}

// Create records a change request and consumes quota in one transaction.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (models.ChangeRequest, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return models.ChangeRequest{}, fmt.Errorf("%w: title is required", ledger.ErrInvalidInput)
	}
	if len(title) > maxTitleLength {
		return models.ChangeRequest{}, fmt.Errorf("%w: title longer than %d characters", ledger.ErrInvalidInput, maxTitleLength)
	}

	var created models.ChangeRequest
	errRun := t.engine.Retry(ctx, func() error {
		return t.engine.Mutate(ctx, req.PlanID, t.lockWait, func(tx *gorm.DB) error {
			plan, errIncrement := t.increment(tx, req.PlanID)
			if errIncrement != nil {
				return errIncrement
			}
			created = models.ChangeRequest{
				PublicID:    uuid.NewString(),
				PlanID:      plan.ID,
				ProjectID:   plan.ProjectID,
				Title:       title,
				Description: strings.TrimSpace(req.Description),
				Status:      models.ChangeRequestPending,
			}
			if errCreate := tx.Create(&created).Error; errCreate != nil {
				return fmt.Errorf("changerequest: create: %w", errCreate)
			}
			return nil
		})
	})
	if errRun != nil {
		return models.ChangeRequest{}, errRun
	}
	return created, nil
}

// Approve moves a pending request to approved.
func (t *Tracker) Approve(ctx context.Context, id uint64) (models.ChangeRequest, error) {
	return t.transition(ctx, id, models.ChangeRequestApproved, models.ChangeRequestPending)
}

// Reject moves a pending request to rejected. The consumed quota is not refunded.
func (t *Tracker) Reject(ctx context.Context, id uint64) (models.ChangeRequest, error) {
	return t.transition(ctx, id, models.ChangeRequestRejected, models.ChangeRequestPending)
}

// Complete moves an approved request to completed.
func (t *Tracker) Complete(ctx context.Context, id uint64) (models.ChangeRequest, error) {
	return t.transition(ctx, id, models.ChangeRequestCompleted, models.ChangeRequestApproved)
}

func (t *Tracker) transition(ctx context.Context, id uint64, to, from models.ChangeRequestStatus) (models.ChangeRequest, error) {
	now := t.engine.Now()
	updates := map[string]any{"status": to, "updated_at": now}
	switch to {
	case models.ChangeRequestCompleted:
		updates["completed_at"] = now
	default:
		updates["decided_at"] = now
	}

	conn := t.engine.DB().WithContext(ctx)
	res := conn.Model(&models.ChangeRequest{}).Where("id = ? AND status = ?", id, from).Updates(updates)
	if res.Error != nil {
		return models.ChangeRequest{}, fmt.Errorf("changerequest: update status: %w", res.Error)
	}
	cr, errGet := t.Get(ctx, id)
	if errGet != nil {
		return models.ChangeRequest{}, errGet
	}
	if res.RowsAffected == 0 {
		return models.ChangeRequest{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cr.Status, to)
	}
	return cr, nil
}

// Get loads one change request.
func (t *Tracker) Get(ctx context.Context, id uint64) (models.ChangeRequest, error) {
	var cr models.ChangeRequest
	if errFind := t.engine.DB().WithContext(ctx).Where("id = ?", id).Take(&cr).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.ChangeRequest{}, ErrNotFound
		}
		return models.ChangeRequest{}, fmt.Errorf("changerequest: load %d: %w", id, errFind)
	}
	return cr, nil
}

// List returns the plan's change requests, newest first.
func (t *Tracker) List(ctx context.Context, planID uint64, limit int) ([]models.ChangeRequest, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	var out []models.ChangeRequest
	if errFind := t.engine.DB().WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error; errFind != nil {
		return nil, fmt.Errorf("changerequest: list: %w", errFind)
	}
	return out, nil
}
