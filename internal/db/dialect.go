package db

import (
	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// NullsLastAsc returns an ascending order clause that sorts NULLs last on both dialects.
func NullsLastAsc(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return column + " IS NULL, " + column + " ASC"
	}
	return column + " ASC NULLS LAST"
}
