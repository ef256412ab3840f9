package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RolloverRecord carries unused monthly allowance from one period into the next.
type RolloverRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;uniqueIndex:ux_rollover_records_plan_source,priority:1"` // Owning plan.

	Hours          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Hours granted at creation.
	HoursRemaining decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Current balance.

	ExpiresAt         time.Time `gorm:"not null;index"`                                                 // Always set.
	SourcePeriodStart time.Time `gorm:"not null"`                                                       // Source period start.
	SourcePeriodEnd   time.Time `gorm:"not null;uniqueIndex:ux_rollover_records_plan_source,priority:2"` // Source period end.
	IsExpired         bool      `gorm:"not null;default:false;index"`                                   // Expired or exhausted.

	ExpiryNotifiedAt *time.Time // Last expiring-soon notification.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ExpiredAt reports whether the record's expiry has passed at t.
func (r RolloverRecord) ExpiredAt(t time.Time) bool {
	return !r.ExpiresAt.After(t)
}

// AvailableAt returns the hours the record contributes to the balance at t.
func (r RolloverRecord) AvailableAt(t time.Time) decimal.Decimal {
	if r.IsExpired || r.ExpiredAt(t) || !r.HoursRemaining.IsPositive() {
		return decimal.Zero
	}
	return r.HoursRemaining
}
