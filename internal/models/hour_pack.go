package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HourPack is a one-time purchased block of support hours.
type HourPack struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID uint64 `gorm:"not null;index:idx_hour_packs_plan_active,priority:1"` // Owning plan.

	PackType       string          `gorm:"type:varchar(64);not null"`             // Pack tier label.
	Hours          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Hours granted.
	HoursRemaining decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Current balance.
	Cost           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Purchase price.

	PurchasedAt  time.Time  `gorm:"not null"`                                                      // Purchase time.
	ExpiresAt    *time.Time `gorm:"index"`                                                         // Expiry, nil when it never expires.
	NeverExpires bool       `gorm:"not null;default:false"`                                        // Ignores ExpiresAt when set.
	IsActive     bool       `gorm:"not null;default:true;index:idx_hour_packs_plan_active,priority:2"` // False once exhausted or expired.

	ExpiryNotifiedAt *time.Time // Last expiring-soon notification.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Expires reports whether the pack carries an effective expiry.
func (p HourPack) Expires() bool {
	return !p.NeverExpires && p.ExpiresAt != nil
}

// ExpiredAt reports whether the pack's expiry has passed at t.
func (p HourPack) ExpiredAt(t time.Time) bool {
	return p.Expires() && !p.ExpiresAt.After(t)
}

// AvailableAt returns the hours the pack contributes to the balance at t.
func (p HourPack) AvailableAt(t time.Time) decimal.Decimal {
	if !p.IsActive || p.ExpiredAt(t) || !p.HoursRemaining.IsPositive() {
		return decimal.Zero
	}
	return p.HoursRemaining
}
