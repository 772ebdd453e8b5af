package database

import (
	"context"

	"github.com/rs/zerolog"

	"identityrecon/internal/config"
)

// Open returns the Backend selected by cfg.DatabaseDriver.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (Backend, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		log.Warn().Msg("using in-memory contact store, data is lost on exit")
		return NewMemory(cfg.TxTimeout), nil
	}
	return New(ctx, Options{
		Driver:       cfg.DatabaseDriver,
		URL:          cfg.DatabaseURL,
		BusyTimeout:  cfg.SQLiteBusyTimeout,
		TxTimeout:    cfg.TxTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
	}, log)
}
