package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/supporthours/internal/settings"
	"github.com/router-for-me/supporthours/internal/tiers"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
	EnvRedisAddr    = "REDIS_ADDR"
	EnvRolloverCron = "ROLLOVER_CRON"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal == nil {
			result = cfg.JWT
		}
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// RedisConfig configures the optional Redis backend for plan locks and events.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LedgerConfig tunes request-path ledger operations.
type LedgerConfig struct {
	LockWait        time.Duration `yaml:"lock-wait"`
	LockTTL         time.Duration `yaml:"lock-ttl"`
	BusyRetries     int           `yaml:"busy-retries"`
	LowBalanceHours string        `yaml:"low-balance-hours"`
}

// RolloverConfig tunes the period rollover sweep.
type RolloverConfig struct {
	Cron        string        `yaml:"cron"`
	LockWait    time.Duration `yaml:"lock-wait"`
	PlanTimeout time.Duration `yaml:"plan-timeout"`
	MaxCatchUp  int           `yaml:"max-catch-up"`
	Disabled    bool          `yaml:"disabled"`
}

// NotifyConfig configures the notification sink.
type NotifyConfig struct {
	RedisChannel       string        `yaml:"redis-channel"`
	ExpiringSoonWindow time.Duration `yaml:"expiring-soon-window"`
	Buffer             int           `yaml:"buffer"`
}

// TierConfig declares one maintenance tier.
type TierConfig struct {
	Name            string  `yaml:"name"`
	SupportHours    float64 `yaml:"support-hours"`
	ChangeRequests  int     `yaml:"change-requests"`
	Unlimited       bool    `yaml:"unlimited"`
	RolloverEnabled bool    `yaml:"rollover-enabled"`
}

// PackConfig declares one purchasable hour pack.
type PackConfig struct {
	Type      string  `yaml:"type"`
	Hours     float64 `yaml:"hours"`
	Cost      float64 `yaml:"cost"`
	ValidDays int     `yaml:"valid-days"`
}

// RateLimitConfig throttles the client portal endpoints per client address.
type RateLimitConfig struct {
	FrontLimit  int           `yaml:"front-limit"` // Requests per window; negative disables.
	FrontWindow time.Duration `yaml:"front-window"`
}

// ServiceConfig is the ledger service section of the config file.
type ServiceConfig struct {
	Port      int             `yaml:"port"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Rollover  RolloverConfig  `yaml:"rollover"`
	Notify    NotifyConfig    `yaml:"notify"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Tiers     []TierConfig    `yaml:"tiers"`
	Packs     []PackConfig    `yaml:"packs"`
}

// LoadServiceConfig reads the service sections from the YAML config file and applies
// env overrides and defaults. A missing file yields the defaults.
func LoadServiceConfig(configPath string) (ServiceConfig, error) {
	var cfg ServiceConfig

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return ServiceConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return ServiceConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
		cfg.Redis.Enabled = true
	}
	if spec := strings.TrimSpace(os.Getenv(EnvRolloverCron)); spec != "" {
		cfg.Rollover.Cron = spec
	}

	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return ServiceConfig{}, errValidate
	}
	return cfg, nil
}

func (c *ServiceConfig) applyDefaults() {
	if c.Port <= 0 {
		c.Port = settings.DefaultPort
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.Prefix = strings.TrimSpace(c.Redis.Prefix)
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = settings.DefaultRedisPrefix
	}
	if c.Redis.DB < 0 {
		c.Redis.DB = 0
	}
	if c.Ledger.LockWait <= 0 {
		c.Ledger.LockWait = settings.DefaultLockWait
	}
	if c.Ledger.LockTTL <= 0 {
		c.Ledger.LockTTL = settings.DefaultLockTTL
	}
	if c.Ledger.BusyRetries < 0 {
		c.Ledger.BusyRetries = 0
	} else if c.Ledger.BusyRetries == 0 {
		c.Ledger.BusyRetries = settings.DefaultBusyRetries
	}
	if strings.TrimSpace(c.Ledger.LowBalanceHours) == "" {
		c.Ledger.LowBalanceHours = settings.DefaultLowBalanceHours
	}
	if strings.TrimSpace(c.Rollover.Cron) == "" {
		c.Rollover.Cron = settings.DefaultRolloverCron
	}
	if c.Rollover.LockWait <= 0 {
		c.Rollover.LockWait = settings.DefaultRolloverLockWait
	}
	if c.Rollover.PlanTimeout <= 0 {
		c.Rollover.PlanTimeout = settings.DefaultRolloverPlanTimeout
	}
	if c.Rollover.MaxCatchUp <= 0 {
		c.Rollover.MaxCatchUp = settings.DefaultRolloverMaxCatchUp
	}
	if c.Notify.ExpiringSoonWindow <= 0 {
		c.Notify.ExpiringSoonWindow = settings.DefaultExpiringSoonWindow
	}
	if c.Notify.Buffer <= 0 {
		c.Notify.Buffer = settings.DefaultNotifyBuffer
	}
	if c.RateLimit.FrontLimit == 0 {
		c.RateLimit.FrontLimit = settings.DefaultFrontRateLimit
	} else if c.RateLimit.FrontLimit < 0 {
		c.RateLimit.FrontLimit = 0
	}
	if c.RateLimit.FrontWindow <= 0 {
		c.RateLimit.FrontWindow = settings.DefaultFrontRateWindow
	}
}

func (c *ServiceConfig) validate() error {
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis enabled without address")
	}
	if _, errParse := decimal.NewFromString(strings.TrimSpace(c.Ledger.LowBalanceHours)); errParse != nil {
		return fmt.Errorf("config: invalid ledger.low-balance-hours: %w", errParse)
	}
	return nil
}

// LowBalanceThreshold returns the parsed low-balance threshold.
func (c ServiceConfig) LowBalanceThreshold() decimal.Decimal {
	threshold, errParse := decimal.NewFromString(strings.TrimSpace(c.Ledger.LowBalanceHours))
	if errParse != nil {
		return decimal.Zero
	}
	return threshold
}

// TierCatalog builds the tier catalog, falling back to the built-in tiers.
func (c ServiceConfig) TierCatalog() (*tiers.Catalog, error) {
	if len(c.Tiers) == 0 {
		return tiers.Default(), nil
	}
	defs := make([]tiers.Definition, 0, len(c.Tiers))
	for _, tc := range c.Tiers {
		defs = append(defs, tiers.Definition{
			Name:            tc.Name,
			SupportHours:    decimal.NewFromFloat(tc.SupportHours),
			ChangeRequests:  tc.ChangeRequests,
			Unlimited:       tc.Unlimited,
			RolloverEnabled: tc.RolloverEnabled,
		})
	}
	return tiers.NewCatalog(defs...)
}

// PackCatalog builds the pack catalog, falling back to the built-in packs.
func (c ServiceConfig) PackCatalog() (*tiers.PackCatalog, error) {
	if len(c.Packs) == 0 {
		return tiers.DefaultPacks(), nil
	}
	defs := make([]tiers.PackDefinition, 0, len(c.Packs))
	for _, pc := range c.Packs {
		defs = append(defs, tiers.PackDefinition{
			Type:      pc.Type,
			Hours:     decimal.NewFromFloat(pc.Hours),
			Cost:      decimal.NewFromFloat(pc.Cost),
			ValidDays: pc.ValidDays,
		})
	}
	return tiers.NewPackCatalog(defs...)
}

// ListenAddr formats the HTTP listen address.
func (c ServiceConfig) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}
