// Package store persists contact records and exposes the narrow set of
// lookups and mutations the reconciliation service drives.
package store

import (
	"context"
	"time"

	"identityrecon/internal/models"
)

// Store is the contact persistence contract. Every read excludes
// soft-deleted rows and returns contacts ordered by created_at, then id.
type Store interface {
	// FindByValue returns contacts whose email equals email OR whose phone
	// equals phone. Nil or empty filters are skipped; with no filters the
	// result is empty.
	FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error)
	// GetByID returns ErrNotFound when no live row has the id.
	GetByID(ctx context.Context, id int64) (*models.Contact, error)
	// GetCluster returns the row with id primaryID plus every row linked to it.
	GetCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error)
	Insert(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error)
	// Demote turns oldPrimaryID into a secondary of newPrimaryID and re-points
	// every row linked to oldPrimaryID at newPrimaryID, atomically.
	Demote(ctx context.Context, oldPrimaryID, newPrimaryID int64) error
}

// RowLocker is implemented by transactional stores that can pin contact rows
// until commit. LockContacts returns the live rows among ids, ordered by id,
// as they stand once the locks are held.
type RowLocker interface {
	LockContacts(ctx context.Context, ids []int64) ([]*models.Contact, error)
}

// Tx provides a transactional boundary for a whole resolution pass.
// SQL implementations wrap a database transaction; the in-memory store uses
// a coarse lock and restores its snapshot when fn fails.
type Tx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now      func() time.Time
	rowLocks bool
}

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRowLocks makes LockContacts take SELECT ... FOR UPDATE row locks. Use
// it on PostgreSQL; SQLite rejects the clause and already serializes writers.
func WithRowLocks() Option {
	return func(o *options) { o.rowLocks = true }
}

func newOptions(opts []Option) options {
	o := options{now: defaultNow}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Microsecond precision matches what PostgreSQL keeps, so a contact read back
// compares equal to the one returned from Insert.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func present(v *string) bool {
	return v != nil && *v != ""
}
