package repository

import (
	"context"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
)

// AccountRepository defines the persistence operations the session layer
// needs. Lookups that match nothing return an error wrapping
// apperrors.ErrNotFound.
type AccountRepository interface {
	// Create inserts a new account and fills in its ID, Version and timestamps.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by its numeric identifier.
	GetByID(ctx context.Context, id int64) (*domain.Account, error)

	// GetByUsername retrieves an account by its unique username.
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)

	// GetByRefreshCredential retrieves the account currently holding the
	// given refresh credential.
	GetByRefreshCredential(ctx context.Context, credential string) (*domain.Account, error)

	// UpdateSession writes account's refresh credential and expiry (both set
	// or both cleared) if the stored version still equals account.Version.
	// On success account.Version is incremented. A version mismatch returns
	// an error wrapping apperrors.ErrConflict and changes nothing.
	UpdateSession(ctx context.Context, account *domain.Account) error

	// Delete removes an account by its identifier.
	Delete(ctx context.Context, id int64) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
