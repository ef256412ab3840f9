package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas are appended to SQLite DSNs that do not set them.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=foreign_keys(1)",
}

// Open connects to PostgreSQL or SQLite depending on the DSN shape.
// SQLite connections are limited to a single open connection so writers serialize.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	if !IsSQLiteDSN(dsn) {
		conn, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open postgres: %w", err)
		}
		return conn, nil
	}

	conn, err := gorm.Open(sqlite.Open(BuildSQLiteDSN(dsn)), cfg)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: sqlite handle: %w", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

// IsSQLiteDSN reports whether dsn points at a SQLite database.
func IsSQLiteDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return false
	case strings.HasPrefix(lower, "file:"), strings.HasPrefix(lower, "sqlite:"), lower == ":memory:":
		return true
	}
	path := lower
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	return strings.HasSuffix(path, ".db") || strings.HasSuffix(path, ".sqlite") || strings.HasSuffix(path, ".sqlite3")
}

// BuildSQLiteDSN normalizes a SQLite DSN and adds the default pragmas.
func BuildSQLiteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite:") {
		dsn = strings.TrimPrefix(dsn[len("sqlite:"):], "//")
	}
	if dsn != ":memory:" && !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	extra := make([]string, 0, len(sqlitePragmas))
	for _, pragma := range sqlitePragmas {
		name := pragma[:strings.Index(pragma, "(")]
		if strings.Contains(dsn, name) {
			continue
		}
		extra = append(extra, pragma)
	}
	if len(extra) == 0 {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join(extra, "&")
}
