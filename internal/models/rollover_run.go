package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RolloverRun marks a processed period boundary so reruns are no-ops.
type RolloverRun struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID      uint64    `gorm:"not null;uniqueIndex:ux_rollover_runs_plan_period,priority:1"` // Plan processed.
	PeriodStart time.Time `gorm:"not null"`                                                     // Closed period start.
	PeriodEnd   time.Time `gorm:"not null;uniqueIndex:ux_rollover_runs_plan_period,priority:2"` // Closed period end, the idempotency key.

	UnusedHours          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Unused allowance at close.
	RolloverRecordID     *uint64         // Record created, if any.
	ExpiredRolloverHours decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Rollover hours forfeited by the sweep.
	ExpiredPackHours     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Pack hours forfeited by the sweep.

	ProcessedAt time.Time `gorm:"not null"`                // Run time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
