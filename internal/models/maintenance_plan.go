package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus represents the lifecycle state of a maintenance plan.
type PlanStatus string

// PlanStatus constants define plan lifecycle states.
const (
	// PlanStatusPending marks a plan created at checkout and awaiting payment.
	PlanStatusPending PlanStatus = "PENDING"
	// PlanStatusActive marks a paid, running plan.
	PlanStatusActive PlanStatus = "ACTIVE"
	// PlanStatusPaused marks a plan whose subscription is on hold.
	PlanStatusPaused PlanStatus = "PAUSED"
	// PlanStatusCancelled marks a terminated plan.
	PlanStatusCancelled PlanStatus = "CANCELLED"
)

// Valid reports whether the status is a known lifecycle state.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusPending, PlanStatusActive, PlanStatusPaused, PlanStatusCancelled:
		return true
	default:
		return false
	}
}

// UnlimitedChangeRequests is the sentinel for plans without a change request cap.
const UnlimitedChangeRequests = -1

// MaintenancePlan is the per-project maintenance subscription and its monthly allowance.
type MaintenancePlan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID uint64     `gorm:"not null;uniqueIndex"`                         // Owning project.
	Tier      string     `gorm:"type:varchar(64);not null"`                    // Tier name.
	NextTier  string     `gorm:"type:varchar(64)"`                             // Tier applied at the next period boundary.
	Status    PlanStatus `gorm:"type:varchar(16);not null;default:'PENDING'"` // Lifecycle status.

	SupportHoursIncluded decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Monthly allowance.
	SupportHoursUsed     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Consumed from allowance this period.

	ChangeRequestsIncluded int `gorm:"not null;default:0"` // Monthly change requests, -1 for unlimited.
	ChangeRequestsUsed     int `gorm:"not null;default:0"` // Change requests created this period.

	BillingDay         int        `gorm:"not null;default:1"` // Day-of-month period anchor.
	CurrentPeriodStart *time.Time `gorm:"index"`              // Current period start.
	CurrentPeriodEnd   *time.Time `gorm:"index"`              // Current period end (exclusive).

	RolloverEnabled bool `gorm:"not null;default:false"` // Whether unused allowance rolls over.

	OnDemandEnabled  bool            `gorm:"not null;default:false"`                // Overage billing toggle, read by the billing guard.
	OnDemandRate     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Overage hourly rate.
	OnDemandCapHours decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Overage cap per period.

	Version int64 `gorm:"not null;default:0"` // Compare-and-swap counter bumped on every ledger write.

	ActivatedAt *time.Time // First activation time.
	CancelledAt *time.Time // Cancellation time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// MonthlyRemaining returns max(0, included - used).
func (p MaintenancePlan) MonthlyRemaining() decimal.Decimal {
	remaining := p.SupportHoursIncluded.Sub(p.SupportHoursUsed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// MonthlyRemainingAt returns the monthly remainder usable at t. A cancelled plan keeps
// its allowance only until the end of its last period.
func (p MaintenancePlan) MonthlyRemainingAt(t time.Time) decimal.Decimal {
	if p.Status == PlanStatusCancelled && p.CurrentPeriodEnd != nil && !t.Before(*p.CurrentPeriodEnd) {
		return decimal.Zero
	}
	return p.MonthlyRemaining()
}

// HasPeriod reports whether the plan has a billing window set.
func (p MaintenancePlan) HasPeriod() bool {
	return p.CurrentPeriodStart != nil && p.CurrentPeriodEnd != nil
}

// HasUnlimitedChangeRequests reports whether the plan has no change request cap.
func (p MaintenancePlan) HasUnlimitedChangeRequests() bool {
	return p.ChangeRequestsIncluded == UnlimitedChangeRequests
}
