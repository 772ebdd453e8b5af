package database

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"identityrecon/internal/apperr"
)

// Postgres SQLSTATE codes the store distinguishes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgNotNullViolation     = "23502"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
)

// classify maps a driver error to the apperr taxonomy. Constraint violations
// become ErrConstraint; every other driver failure is a retryable
// ErrPersistence.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code == sqlite3.ErrConstraint {
			return apperr.Constraint(op, err)
		}
		return apperr.Persistence(op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgNotNullViolation, pgForeignKeyViolation, pgCheckViolation:
			return apperr.Constraint(op, err)
		}
		return apperr.Persistence(op, err)
	}

	return apperr.Persistence(op, err)
}

// isConflict reports whether err is an isolation conflict the caller can
// resolve by re-running the whole transaction.
func isConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return false
}
