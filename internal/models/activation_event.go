package models

import "time"

// ActivationEvent records a processed payment-confirmed event.
type ActivationEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID   string `gorm:"type:varchar(191);not null;uniqueIndex"` // External event identifier.
	ProjectID uint64 `gorm:"not null;index"`                         // Project the event was for.
	PlanID    uint64 `gorm:"not null;index"`                         // Plan created or updated.
	Tier      string `gorm:"type:varchar(64);not null"`              // Tier applied.

	ProcessedAt time.Time `gorm:"not null"`                // Processing time.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
