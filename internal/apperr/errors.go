// Package apperr defines the error kinds shared by the store, the
// reconciliation engine and the HTTP layer.
//
// Stores and the engine return these sentinels wrapped with context
// (fmt.Errorf("...: %w", apperr.ErrNotFound)); callers classify with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation means the caller sent neither an email nor a phone number.
	ErrValidation = errors.New("validation error")
	// ErrConstraint means a row would violate a schema constraint. Never caused
	// by user input; it points at a logic defect.
	ErrConstraint = errors.New("constraint error")
	// ErrNotFound means a demote/retarget/group lookup targeted a missing row.
	ErrNotFound = errors.New("not found")
	// ErrPersistence covers connection, transaction and isolation failures.
	// The whole call may be retried.
	ErrPersistence = errors.New("persistence error")
	// ErrInvariant means stored rows violate the group structure, e.g. a
	// secondary without a linked primary.
	ErrInvariant = errors.New("invariant violation")
)

// Validation returns an ErrValidation carrying msg.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Persistence wraps err as a retryable persistence failure.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrPersistence, op: op, err: err}
}

// Constraint wraps err as a constraint failure.
func Constraint(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrConstraint, op: op, err: err}
}

// Retryable reports whether the failed call can be re-submitted unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// wrapped keeps both the kind sentinel and the driver error reachable
// through errors.Is / errors.As.
type wrapped struct {
	kind error
	op   string
	err  error
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.op, w.kind, w.err)
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}
