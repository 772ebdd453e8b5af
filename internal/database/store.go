package database

import (
	"context"

	"identityrecon/internal/models"
)

// Store is the contact persistence contract used inside a transaction.
// Every read excludes tombstoned rows and orders by id ascending.
type Store interface {
	// FindMatching returns contacts whose email equals email OR whose phone
	// number equals phone. Nil or empty arguments do not match anything.
	FindMatching(ctx context.Context, email, phone *string) ([]models.Contact, error)
	// FindGroup returns the primary primaryID followed by its secondaries.
	FindGroup(ctx context.Context, primaryID int64) ([]models.Contact, error)
	Insert(ctx context.Context, c models.NewContact) (models.Contact, error)
	// Demote turns contactID into a secondary of newPrimaryID.
	Demote(ctx context.Context, contactID, newPrimaryID int64) error
	// Retarget points the secondary contactID at newPrimaryID.
	Retarget(ctx context.Context, contactID, newPrimaryID int64) error
}

// Transactor runs fn against a Store whose writes commit together or not at
// all. fn receives the transaction's context, which carries its deadline.
// fn's error is returned unchanged after rollback.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// Backend is a complete contact store: transactional access plus the
// non-transactional reads used by the HTTP layer.
type Backend interface {
	Transactor
	Get(ctx context.Context, id int64) (models.Contact, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
