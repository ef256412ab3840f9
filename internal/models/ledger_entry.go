package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LedgerEntryKind classifies an hour movement.
type LedgerEntryKind string

// LedgerEntryKind constants.
const (
	LedgerEntryConsume        LedgerEntryKind = "consume"
	LedgerEntryUnlimitedUsage LedgerEntryKind = "unlimited_usage"
	LedgerEntryCredit         LedgerEntryKind = "credit"
	LedgerEntryPackPurchase   LedgerEntryKind = "pack_purchase"
	LedgerEntryRolloverGrant  LedgerEntryKind = "rollover_grant"
	LedgerEntryExpiry         LedgerEntryKind = "expiry"
)

// PoolKind names one of the three balance-bearing pools.
type PoolKind string

// PoolKind constants.
const (
	PoolMonthly  PoolKind = "monthly"
	PoolRollover PoolKind = "rollover"
	PoolPack     PoolKind = "pack"
)

// Valid reports whether the pool kind is known.
func (k PoolKind) Valid() bool {
	return k == PoolMonthly || k == PoolRollover || k == PoolPack
}

// LedgerEntry is an append-only audit row for every hour movement.
type LedgerEntry struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	PlanID      uint64          `gorm:"not null;index:idx_ledger_entries_plan_time,priority:1"` // Owning plan.
	OperationID string          `gorm:"type:varchar(36);not null;index"`                        // Groups the rows of one call.
	Kind        LedgerEntryKind `gorm:"type:varchar(32);not null"`                              // Movement kind.
	PoolKind    PoolKind        `gorm:"type:varchar(16)"`                                       // Pool touched, empty for unlimited usage.
	PoolID      *uint64         // Rollover or pack ID.
	Hours       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"` // Signed: negative draws, positive grants.
	Note        string          `gorm:"type:text"`                             // Free-form reason.
	Metadata    datatypes.JSON  `gorm:"type:json"`                             // Structured context.

	OccurredAt time.Time `gorm:"not null;index:idx_ledger_entries_plan_time,priority:2"` // Effective time.
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`                                 // Creation timestamp.
}
