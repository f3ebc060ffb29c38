package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"

	"possale/backend/internal/domain"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"sqlite"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr             string `envconfig:"REDIS_ADDR"`
	RedisPassword         string `envconfig:"REDIS_PASSWORD"`
	RedisDB               int    `envconfig:"REDIS_DB" default:"0"`
	ReportCacheTTLSeconds int    `envconfig:"REPORT_CACHE_TTL_SECONDS" default:"60"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`

	SeedAdminPassword    string `envconfig:"SEED_ADMIN_PASSWORD"`
	SeedOperatorPassword string `envconfig:"SEED_OPERATOR_PASSWORD"`
	SeedDemoCatalog      bool   `envconfig:"SEED_DEMO_CATALOG" default:"true"`

	RegularSpendThresholdCents   int64 `envconfig:"REGULAR_SPEND_THRESHOLD_CENTS" default:"1000000"`
	HighValueSpendThresholdCents int64 `envconfig:"HIGH_VALUE_SPEND_THRESHOLD_CENTS" default:"5000000"`
	CancelDecrementsVisits       bool  `envconfig:"CANCEL_DECREMENTS_VISITS" default:"false"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = DriverSQLite
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.ReportCacheTTLSeconds < 1 {
		cfg.ReportCacheTTLSeconds = 60
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.DatabaseURL == "" && cfg.StorageDriver == DriverSQLite {
		cfg.DatabaseURL = "file:pos.db"
	}

	switch cfg.StorageDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.StorageDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres driver")
	}
	if err := cfg.SegmentPolicy().Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SegmentPolicy() domain.SegmentPolicy {
	return domain.SegmentPolicy{
		RegularAboveCents:   c.RegularSpendThresholdCents,
		HighValueAboveCents: c.HighValueSpendThresholdCents,
	}
}
