package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// DatabaseURL empty runs on the in-memory store seeded from TariffCatalog.
	DatabaseURL   string `env:"DATABASE_URL"`
	TariffCatalog string `env:"TARIFF_CATALOG" envDefault:"configs/catalog.yaml"`
	TimeZone      string `env:"BILLING_TIMEZONE" envDefault:"Europe/London"`
	// MeterAttribution is representative or none.
	MeterAttribution string `env:"METER_ATTRIBUTION" envDefault:"representative"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisChannel     string        `env:"REDIS_EVENTS_CHANNEL" envDefault:"billing.events"`
	RateBandCacheTTL time.Duration `env:"RATE_BAND_CACHE_TTL" envDefault:"5m"`

	BatchConcurrency   int     `env:"BATCH_CONCURRENCY" envDefault:"4"`
	BatchRatePerSecond float64 `env:"BATCH_RATE_PER_SECOND" envDefault:"0"`

	OutboxDispatchInterval time.Duration `env:"OUTBOX_DISPATCH_INTERVAL" envDefault:"5s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.AuthJWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.IsProduction() && c.UsesMemoryStore() {
		return errors.New("config: DATABASE_URL is required in production")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("config: BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}
	if c.BatchRatePerSecond < 0 {
		return fmt.Errorf("config: BATCH_RATE_PER_SECOND must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the billing timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: BILLING_TIMEZONE: %w", err)
	}
	return loc, nil
}

// UsesMemoryStore reports whether no database is configured.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
