package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

const defaultTxTimeout = 5 * time.Second

// Options configures a SQL-backed store.
type Options struct {
	Driver       string // "sqlite3" or "postgres"
	URL          string // file path for sqlite3, connection string for postgres
	BusyTimeout  time.Duration
	TxTimeout    time.Duration
	MaxOpenConns int
}

// DB wraps the sql.DB connection
type DB struct {
	Conn      *sql.DB
	dialect   dialect
	txTimeout time.Duration
	log       zerolog.Logger
}

type dialect struct {
	name      string
	txOptions *sql.TxOptions
	dollar    bool
}

var (
	sqliteDialect = dialect{name: "sqlite"}
	// Postgres needs SERIALIZABLE so two identify calls racing on the same
	// email or phone cannot both commit.
	postgresDialect = dialect{
		name:      "postgres",
		txOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
		dollar:    true,
	}
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// New creates a new database connection and runs migrations
func New(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	var (
		d   dialect
		dsn string
	)
	switch opts.Driver {
	case "sqlite3":
		d = sqliteDialect
		dsn = sqliteDSN(opts.URL, opts.BusyTimeout)
	case "postgres":
		d = postgresDialect
		dsn = opts.URL
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	conn, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		Conn:      conn,
		dialect:   d,
		txTimeout: opts.TxTimeout,
		log:       log.With().Str("component", "database").Str("driver", opts.Driver).Logger(),
	}

	if err := db.runMigrations(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db.log.Info().Msg("database initialized")
	return db, nil
}

// sqliteDSN appends the pragmas the store relies on. _txlock=immediate makes
// BEGIN take the write lock, so one identify call's read-decide-write runs
// without interleaving.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	params := fmt.Sprintf("_foreign_keys=on&_busy_timeout=%d&_txlock=immediate&_journal_mode=WAL",
		busyTimeout.Milliseconds())
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// RunInTx executes fn inside one database transaction. A default timeout is
// applied when ctx carries no deadline.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("begin tx", err)
	}

	timeout := db.txTimeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := db.Conn.BeginTx(ctx, db.dialect.txOptions)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, &contactStore{q: tx, dialect: db.dialect}); err != nil {
		if isConflict(err) {
			db.log.Warn().Err(err).Msg("transaction conflict, rolled back")
		} else {
			db.log.Debug().Err(err).Msg("transaction rolled back")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if isConflict(err) {
			db.log.Warn().Err(err).Msg("commit conflict")
		}
		return classify("commit tx", err)
	}
	return nil
}

// Get returns the contact with the given id, tombstoned or not.
func (db *DB) Get(ctx context.Context, id int64) (models.Contact, error) {
	store := &contactStore{q: db.Conn, dialect: db.dialect}
	return store.get(ctx, id)
}

// Count returns the number of stored rows, tombstoned included.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, classify("count contacts", err)
	}
	return n, nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Conn.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}
