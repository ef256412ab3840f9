package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LegacySubscription is the pre-plan single-pool support subscription. It is read
// only; new projects always get a MaintenancePlan.
type LegacySubscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProjectID     uint64          `gorm:"not null;uniqueIndex"`                  // Owning project.
	Tier          string          `gorm:"type:varchar(64)"`                      // Free-form tier label.
	HoursIncluded decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Single pool size.
	HoursUsed     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Consumed from the pool.
	Status        string          `gorm:"type:varchar(32);not null;default:'active'"`
	PeriodEnd     *time.Time      // Renewal time, if known.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
