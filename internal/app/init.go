package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/supporthours/internal/db"
	"github.com/router-for-me/supporthours/internal/security"
	"github.com/router-for-me/supporthours/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// InitOptions describes the database of a new installation.
type InitOptions struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	Port             int
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "supporthours.db"

// BuildDSN builds a database DSN from the init options.
func BuildDSN(opts InitOptions) (string, error) {
	switch strings.ToLower(strings.TrimSpace(opts.DatabaseType)) {
	case "", "sqlite":
		path := strings.TrimSpace(opts.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		return db.BuildSQLiteDSN(path), nil
	case "postgres":
		if strings.TrimSpace(opts.DatabaseHost) == "" || strings.TrimSpace(opts.DatabaseName) == "" {
			return "", fmt.Errorf("postgres host and database name are required")
		}
		port := opts.DatabasePort
		if port <= 0 {
			port = 5432
		}
		sslMode := opts.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			opts.DatabaseUser,
			opts.DatabasePassword,
			opts.DatabaseHost,
			port,
			opts.DatabaseName,
			sslMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database type %q", opts.DatabaseType)
	}
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Port        int         `yaml:"port"`
	DatabaseDSN string      `yaml:"database-dsn"`
	JWT         jwtCfg      `yaml:"jwt"`
	Redis       redisCfg    `yaml:"redis"`
	Rollover    rolloverCfg `yaml:"rollover"`
	Ledger      ledgerCfg   `yaml:"ledger"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

type redisCfg struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type rolloverCfg struct {
	Cron string `yaml:"cron"`
}

type ledgerCfg struct {
	LockWait        string `yaml:"lock-wait"`
	LowBalanceHours string `yaml:"low-balance-hours"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() (string, error) {
	return security.GenerateRandomString(32)
}

// WriteConfigFile writes the initial config file to disk. It refuses to overwrite an
// existing file.
func WriteConfigFile(configPath string, dsn string, port int) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("config file %s already exists", configPath)
	}
	if port <= 0 {
		port = settings.DefaultPort
	}
	secret, errSecret := generateJWTSecret()
	if errSecret != nil {
		return errSecret
	}
	cfg := configFile{
		Port:        port,
		DatabaseDSN: dsn,
		JWT:         jwtCfg{Secret: secret, Expiry: "720h"},
		Rollover:    rolloverCfg{Cron: settings.DefaultRolloverCron},
		Ledger: ledgerCfg{
			LockWait:        settings.DefaultLockWait.String(),
			LowBalanceHours: settings.DefaultLowBalanceHours,
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}
	return nil
}

// Init checks the database, writes the config file and runs the migrations.
func Init(configPath string, opts InitOptions) error {
	dsn, errDSN := BuildDSN(opts)
	if errDSN != nil {
		return errDSN
	}
	if errConn := TestDatabaseConnection(dsn); errConn != nil {
		return errConn
	}
	if errWrite := WriteConfigFile(configPath, dsn, opts.Port); errWrite != nil {
		return errWrite
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Infof("initialized config=%s", configPath)
	return nil
}
