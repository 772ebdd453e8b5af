//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresStoreSuite runs the Store contract against a real Postgres.
func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("contacts"),
		tcpostgres.WithUsername("contacts"),
		tcpostgres.WithPassword("contacts"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := New(ctx, Options{
		Driver:       "postgres",
		URL:          dsn,
		TxTimeout:    5 * time.Second,
		MaxOpenConns: 10,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	suite.Run(t, &StoreSuite{
		open: func(t *testing.T) Backend {
			if _, err := db.Conn.Exec(`TRUNCATE contacts RESTART IDENTITY`); err != nil {
				t.Fatalf("truncate contacts: %v", err)
			}
			return db
		},
		tombstone: func(t *testing.T, b Backend, id int64) {
			if _, err := db.Conn.Exec(`UPDATE contacts SET deleted_at = NOW() WHERE id = $1`, id); err != nil {
				t.Fatalf("tombstone %d: %v", id, err)
			}
		},
	})
}
