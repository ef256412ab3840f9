package db

import (
	"fmt"
	"strings"

	"github.com/router-for-me/supporthours/internal/models"
	"gorm.io/gorm"
)

// ledgerModels lists every table owned by the ledger, in creation order.
func ledgerModels() []any {
	return []any{
		&models.MaintenancePlan{},
		&models.HourPack{},
		&models.RolloverRecord{},
		&models.ChangeRequest{},
		&models.LedgerEntry{},
		&models.RolloverRun{},
		&models.ActivationEvent{},
		&models.LegacySubscription{},
	}
}

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errRename := renameTableIfNeeded(conn, "support_subscriptions", "legacy_subscriptions"); errRename != nil {
		return fmt.Errorf("db: rename support_subscriptions: %w", errRename)
	}
	if errAutoMigrate := conn.AutoMigrate(ledgerModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	checks := []struct {
		model any
		name  string
		expr  string
	}{
		{&models.MaintenancePlan{}, "chk_maintenance_plans_used_nonneg", "support_hours_used >= 0"},
		{&models.MaintenancePlan{}, "chk_maintenance_plans_billing_day", "billing_day BETWEEN 1 AND 31"},
		{&models.MaintenancePlan{}, "chk_maintenance_plans_cr_included", "change_requests_included >= -1"},
		{&models.HourPack{}, "chk_hour_packs_remaining", "hours_remaining >= 0 AND hours_remaining <= hours"},
		{&models.RolloverRecord{}, "chk_rollover_records_remaining", "hours_remaining >= 0 AND hours_remaining <= hours"},
	}
	for _, check := range checks {
		table, errTable := tableNameForModel(conn, check.model)
		if errTable != nil {
			return errTable
		}
		if errCheck := ensurePostgresCheck(conn, table, check.name, check.expr); errCheck != nil {
			return errCheck
		}
	}

	if errPackIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_hour_packs_draw_order
		ON hour_packs (plan_id, expires_at ASC NULLS LAST, purchased_at ASC, id ASC)
		WHERE is_active
	`).Error; errPackIdx != nil {
		return fmt.Errorf("db: create hour pack draw index: %w", errPackIdx)
	}
	if errRolloverIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_rollover_records_draw_order
		ON rollover_records (plan_id, expires_at ASC, id ASC)
		WHERE NOT is_expired
	`).Error; errRolloverIdx != nil {
		return fmt.Errorf("db: create rollover draw index: %w", errRolloverIdx)
	}
	if errDueIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_maintenance_plans_due
		ON maintenance_plans (status, current_period_end)
	`).Error; errDueIdx != nil {
		return fmt.Errorf("db: create plan due index: %w", errDueIdx)
	}
	return nil
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errRename := renameTableIfNeeded(conn, "support_subscriptions", "legacy_subscriptions"); errRename != nil {
		return fmt.Errorf("db: rename support_subscriptions: %w", errRename)
	}
	if errAutoMigrate := conn.AutoMigrate(ledgerModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	statements := []struct {
		label string
		sql   string
	}{
		{"hour pack draw index", `CREATE INDEX IF NOT EXISTS idx_hour_packs_draw_order ON hour_packs (plan_id, is_active, expires_at, purchased_at, id)`},
		{"rollover draw index", `CREATE INDEX IF NOT EXISTS idx_rollover_records_draw_order ON rollover_records (plan_id, is_expired, expires_at, id)`},
		{"plan due index", `CREATE INDEX IF NOT EXISTS idx_maintenance_plans_due ON maintenance_plans (status, current_period_end)`},
	}
	for _, stmt := range statements {
		if errExec := conn.Exec(stmt.sql).Error; errExec != nil {
			return fmt.Errorf("db: create %s: %w", stmt.label, errExec)
		}
	}
	return nil
}

// ensurePostgresCheck adds a named CHECK constraint when it does not exist yet.
func ensurePostgresCheck(conn *gorm.DB, table, name, expr string) error {
	var count int64
	if errCount := conn.Raw(`
		SELECT COUNT(*) FROM pg_constraint
		WHERE conname = ? AND conrelid = to_regclass(?)
	`, name, table).Scan(&count).Error; errCount != nil {
		return fmt.Errorf("db: inspect constraint %s: %w", name, errCount)
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", quoteIdentifier(table), quoteIdentifier(name), expr)
	if errAdd := conn.Exec(stmt).Error; errAdd != nil {
		return fmt.Errorf("db: add constraint %s: %w", name, errAdd)
	}
	return nil
}

// renameTableIfNeeded renames from to to when only the old table exists.
func renameTableIfNeeded(conn *gorm.DB, from, to string) error {
	migrator := conn.Migrator()
	if migrator == nil {
		return fmt.Errorf("db: nil migrator")
	}
	hasFrom := migrator.HasTable(from)
	hasTo := migrator.HasTable(to)
	if !hasFrom || hasTo {
		return nil
	}
	return migrator.RenameTable(from, to)
}

// tableNameForModel resolves the table name for a GORM model.
func tableNameForModel(conn *gorm.DB, model any) (string, error) {
	stmt := &gorm.Statement{DB: conn}
	if err := stmt.Parse(model); err != nil {
		return "", fmt.Errorf("db: parse model: %w", err)
	}
	if stmt.Schema == nil || stmt.Schema.Table == "" {
		return "", fmt.Errorf("db: resolve table name")
	}
	return stmt.Schema.Table, nil
}

// quoteIdentifier quotes a SQL identifier safely.
func quoteIdentifier(name string) string {
	if name == "" {
		return "\"\""
	}
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}
