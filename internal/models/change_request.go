package models

import "time"

// ChangeRequestStatus represents the review state of a change request.
type ChangeRequestStatus string

// ChangeRequestStatus constants define change request states.
const (
	// ChangeRequestPending marks a newly submitted request.
	ChangeRequestPending ChangeRequestStatus = "pending"
	// ChangeRequestApproved marks a request accepted for work.
	ChangeRequestApproved ChangeRequestStatus = "approved"
	// ChangeRequestCompleted marks a delivered request.
	ChangeRequestCompleted ChangeRequestStatus = "completed"
	// ChangeRequestRejected marks a declined request.
	ChangeRequestRejected ChangeRequestStatus = "rejected"
)

// ChangeRequest is a client-submitted scope change counted against the plan quota.
type ChangeRequest struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`             // Primary key.
	PublicID string `gorm:"type:varchar(36);not null;uniqueIndex"` // External identifier.

	PlanID    uint64 `gorm:"not null;index"` // Owning plan.
	ProjectID uint64 `gorm:"not null;index"` // Owning project.

	Title       string              `gorm:"type:varchar(255);not null"`                  // Short summary.
	Description string              `gorm:"type:text"`                                   // Details.
	Status      ChangeRequestStatus `gorm:"type:varchar(16);not null;default:'pending'"` // Review state.

	DecidedAt   *time.Time // Approval or rejection time.
	CompletedAt *time.Time // Completion time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
