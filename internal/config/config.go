package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port           string `env:"PORT" envDefault:"8080"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"identity-reconciliation"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	DatabaseDriver    string        `env:"DATABASE_DRIVER" envDefault:"sqlite3"`
	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"./bitespeed.db"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
	MaxOpenConns      int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	TxTimeout         time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// FromEnv builds a Config from environment variables and validates it.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

// Validate rejects combinations the service cannot start with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver != DriverMemory && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for driver %s", c.DatabaseDriver)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("TX_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive")
	}
	return nil
}
