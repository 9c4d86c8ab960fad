// Package storage defines the Contact Store contract consumed by the resolver
// together with the in-memory and JSON-file implementations.
package storage

import (
	"context"
	"errors"

	"identityrecon/internal/models"
)

var (
	// ErrConflict reports that a transaction lost a race with a concurrent writer.
	// Callers must re-derive state from a fresh read before trying again.
	ErrConflict = errors.New("storage: concurrent update conflict")

	// ErrClosed is returned by stores after Close.
	ErrClosed = errors.New("storage: store closed")
)

// ContactStore is the set of operations the resolver performs against persisted contacts.
// Every read excludes soft-deleted rows and orders by created_at, then id.
type ContactStore interface {
	FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error)
	Create(ctx context.Context, c models.NewContact) (int64, error)
	FindLinkedContacts(ctx context.Context, ids []int64) ([]*models.Contact, error)
	UpdateToSecondary(ctx context.Context, id, primaryID int64) error
	UpdateLinkedContacts(ctx context.Context, oldPrimaryID, newPrimaryID int64) error
	UpdateToPrimary(ctx context.Context, id int64) error
}

// Store is a ContactStore with a transactional boundary.
// Implementations may wrap a database transaction or, in-memory, a coarse lock.
type Store interface {
	ContactStore
	RunInTx(ctx context.Context, fn func(tx ContactStore) error) error
	Ping(ctx context.Context) error
	Close() error
}
