package db

import (
	"path/filepath"
	"testing"
)

func TestIsSQLiteDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost:5432/ledger":  false,
		"host=localhost user=ledger dbname=led": false,
		"file:ledger.db":                        true,
		"sqlite://data/ledger.db":               true,
		"./ledger.db?cache=shared":              true,
		":memory:":                              true,
	}
	for dsn, want := range cases {
		if got := IsSQLiteDSN(dsn); got != want {
			t.Fatalf("IsSQLiteDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestBuildSQLiteDSNKeepsExplicitPragmas(t *testing.T) {
	dsn := BuildSQLiteDSN("file:ledger.db?_pragma=busy_timeout(100)")
	if dsn != "file:ledger.db?_pragma=busy_timeout(100)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestMigrateSQLite(t *testing.T) {
	conn, err := Open("file:" + filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %q", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	// Second run must be a no-op.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate again: %v", errMigrate)
	}
	for _, table := range []string{"maintenance_plans", "hour_packs", "rollover_records", "change_requests", "ledger_entries", "rollover_runs", "activation_events", "legacy_subscriptions"} {
		if !conn.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if !conn.Migrator().HasIndex("hour_packs", "idx_hour_packs_draw_order") {
		t.Fatalf("expected draw order index")
	}
}
