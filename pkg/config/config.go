// Package config loads stache configuration. Defaults are overlaid by an
// optional YAML file (STACHE_CONFIG_FILE) and then by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable that points at the YAML overlay.
const FileEnv = "STACHE_CONFIG_FILE"

type Config struct {
	LogLevel  string `yaml:"log_level" env:"STACHE_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"STACHE_LOG_FORMAT"`

	Store     StoreConfig     `yaml:"store" envPrefix:"STACHE_STORE_"`
	Ledger    LedgerConfig    `yaml:"ledger" envPrefix:"STACHE_LEDGER_"`
	Receipts  ReceiptsConfig  `yaml:"receipts" envPrefix:"STACHE_RECEIPTS_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"STACHE_SCHEDULER_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"STACHE_OTEL_"`

	// ActionTTL expires pending vault actions; zero keeps them forever.
	ActionTTL time.Duration `yaml:"action_ttl" env:"STACHE_ACTION_TTL"`
}

// StoreConfig selects record persistence: memory, sqlite or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// LedgerConfig selects the transfer primitive: memory or postgres.
type LedgerConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// ReceiptsConfig selects receipt storage (memory or sqlite) and the optional
// blob archive.
type ReceiptsConfig struct {
	Driver  string        `yaml:"driver" env:"DRIVER"`
	DSN     string        `yaml:"dsn" env:"DSN"`
	Archive ArchiveConfig `yaml:"archive" envPrefix:"ARCHIVE_"`
}

// ArchiveConfig maps onto artifacts.Config. An empty backend disables
// archiving.
type ArchiveConfig struct {
	Backend  string `yaml:"backend" env:"BACKEND"`
	Dir      string `yaml:"dir" env:"DIR"`
	Bucket   string `yaml:"bucket" env:"BUCKET"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
	Region   string `yaml:"region" env:"REGION"`
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
}

type SchedulerConfig struct {
	Interval       time.Duration `yaml:"interval" env:"INTERVAL"`
	FiresPerSecond float64       `yaml:"fires_per_second" env:"FIRES_PER_SECOND"`
	Burst          int           `yaml:"burst" env:"BURST"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	// RedisAddr enables the shared lock; empty means in-process locking.
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Environment string  `yaml:"environment" env:"ENVIRONMENT"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		LogLevel:  "INFO",
		LogFormat: "text",
		Store:     StoreConfig{Driver: "memory"},
		Ledger:    LedgerConfig{Driver: "memory"},
		Receipts:  ReceiptsConfig{Driver: "memory"},
		Scheduler: SchedulerConfig{
			Interval:       30 * time.Second,
			FiresPerSecond: 20,
			Burst:          5,
			LockTTL:        30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			Environment: "development",
		},
	}
}

// Load builds the configuration from defaults, the file named by
// STACHE_CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate rejects unknown drivers and missing DSNs.
func (c Config) Validate() error {
	var errs []error
	check := func(what, driver, dsn string, allowed ...string) {
		for _, a := range allowed {
			if driver == a {
				if driver != "memory" && dsn == "" {
					errs = append(errs, fmt.Errorf("%s: driver %s needs a dsn", what, driver))
				}
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unsupported driver %q", what, driver))
	}
	check("store", c.Store.Driver, c.Store.DSN, "memory", "sqlite", "postgres")
	check("ledger", c.Ledger.Driver, c.Ledger.DSN, "memory", "postgres")
	check("receipts", c.Receipts.Driver, c.Receipts.DSN, "memory", "sqlite")
	if c.ActionTTL < 0 {
		errs = append(errs, errors.New("action_ttl must not be negative"))
	}
	return errors.Join(errs...)
}
