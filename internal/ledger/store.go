package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoadPlanForUpdate reads the plan row and locks it for the rest of tx.
func LoadPlanForUpdate(tx *gorm.DB, planID uint64) (models.MaintenancePlan, error) {
	var plan models.MaintenancePlan
	errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", planID).
		Take(&plan).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.MaintenancePlan{}, ErrPlanNotFound
		}
		return models.MaintenancePlan{}, fmt.Errorf("ledger: load plan %d: %w", planID, errFind)
	}
	return plan, nil
}

// LoadUsablePools reads the rollover records and packs still flagged usable, in draw order.
func LoadUsablePools(tx *gorm.DB, planID uint64) ([]models.RolloverRecord, []models.HourPack, error) {
	var rollovers []models.RolloverRecord
	if errRollovers := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plan_id = ? AND is_expired = ?", planID, false).
		Order("expires_at ASC, id ASC").
		Find(&rollovers).Error; errRollovers != nil {
		return nil, nil, fmt.Errorf("ledger: load rollovers: %w", errRollovers)
	}

	var packs []models.HourPack
	if errPacks := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("plan_id = ? AND is_active = ?", planID, true).
		Order(db.NullsLastAsc(tx, "expires_at") + ", purchased_at ASC, id ASC").
		Find(&packs).Error; errPacks != nil {
		return nil, nil, fmt.Errorf("ledger: load packs: %w", errPacks)
	}
	return rollovers, packs, nil
}

// UpdatePlanCAS applies updates guarded by the plan version and bumps it.
// A moved version yields ErrConflict.
func UpdatePlanCAS(tx *gorm.DB, plan *models.MaintenancePlan, updates map[string]any, now time.Time) error {
	updates["version"] = plan.Version + 1
	updates["updated_at"] = now.UTC()
	res := tx.Model(&models.MaintenancePlan{}).
		Where("id = ? AND version = ?", plan.ID, plan.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("ledger: update plan %d: %w", plan.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	plan.Version++
	return nil
}

// ExpireRollovers flags rollover records as expired.
func ExpireRollovers(tx *gorm.DB, ids []uint64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if errUpdate := tx.Model(&models.RolloverRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"is_expired": true, "updated_at": now.UTC()}).Error; errUpdate != nil {
		return fmt.Errorf("ledger: expire rollovers: %w", errUpdate)
	}
	return nil
}

// DeactivatePacks flags hour packs as inactive.
func DeactivatePacks(tx *gorm.DB, ids []uint64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if errUpdate := tx.Model(&models.HourPack{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"is_active": false, "updated_at": now.UTC()}).Error; errUpdate != nil {
		return fmt.Errorf("ledger: deactivate packs: %w", errUpdate)
	}
	return nil
}

// AppendEntries writes ledger audit rows.
func AppendEntries(tx *gorm.DB, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if errCreate := tx.Create(&entries).Error; errCreate != nil {
		return fmt.Errorf("ledger: append entries: %w", errCreate)
	}
	return nil
}

// EntryMetadata encodes structured context for a ledger entry.
func EntryMetadata(fields map[string]any) datatypes.JSON {
	if len(fields) == 0 {
		return nil
	}
	raw, errMarshal := json.Marshal(fields)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
