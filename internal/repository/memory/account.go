package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

// AccountRepository implements repository.AccountRepository using in-memory
// maps. It is meant for development and tests.
type AccountRepository struct {
	mu         sync.RWMutex
	nextID     int64
	byUsername map[string]*domain.Account
	byID       map[int64]string
	byRefresh  map[string]string
	now        func() time.Time
}

// NewAccountRepository creates an empty in-memory account repository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byUsername: make(map[string]*domain.Account),
		byID:       make(map[int64]string),
		byRefresh:  make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of a and assigns it the next ID.
func (r *AccountRepository) Create(_ context.Context, a *domain.Account) error {
	if err := checkPair(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[a.Username]; exists {
		return apperrors.AlreadyExists("account", "username", a.Username)
	}

	now := r.now()
	r.nextID++
	a.ID = r.nextID
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now

	stored := clone(a)
	r.byUsername[a.Username] = stored
	r.byID[a.ID] = a.Username
	if stored.RefreshCredential != "" {
		r.byRefresh[stored.RefreshCredential] = a.Username
	}
	return nil
}

// GetByID returns a copy of the account with the given ID.
func (r *AccountRepository) GetByID(_ context.Context, id int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("account", strconv.FormatInt(id, 10))
	}
	return clone(r.byUsername[username]), nil
}

// GetByUsername returns a copy of the account with the given username.
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byUsername[username]
	if !ok {
		return nil, apperrors.NotFoundBy("account", "username", username)
	}
	return clone(a), nil
}

// GetByRefreshCredential returns a copy of the account holding credential.
func (r *AccountRepository) GetByRefreshCredential(_ context.Context, credential string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	username, ok := r.byRefresh[credential]
	if !ok || credential == "" {
		return nil, apperrors.NotFoundBy("account", "refresh credential", "<redacted>")
	}
	return clone(r.byUsername[username]), nil
}

// UpdateSession replaces the refresh pair when the stored version matches.
func (r *AccountRepository) UpdateSession(_ context.Context, a *domain.Account) error {
	if err := checkPair(a); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byUsername[a.Username]
	if !ok || stored.ID != a.ID || stored.Version != a.Version {
		return apperrors.Conflict(fmt.Sprintf("account %d was modified concurrently", a.ID))
	}

	if stored.RefreshCredential != "" {
		delete(r.byRefresh, stored.RefreshCredential)
	}
	if a.RefreshCredential != "" {
		stored.SetSession(a.RefreshCredential, *a.RefreshExpiresAt)
		r.byRefresh[a.RefreshCredential] = a.Username
	} else {
		stored.ClearSession()
	}

	now := r.now()
	stored.Version++
	stored.UpdatedAt = now
	a.Version = stored.Version
	a.UpdatedAt = now
	return nil
}

// Delete removes the account with the given ID.
func (r *AccountRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok := r.byID[id]
	if !ok {
		return apperrors.NotFound("account", strconv.FormatInt(id, 10))
	}
	if cred := r.byUsername[username].RefreshCredential; cred != "" {
		delete(r.byRefresh, cred)
	}
	delete(r.byUsername, username)
	delete(r.byID, id)
	return nil
}

// Ping always succeeds.
func (r *AccountRepository) Ping(context.Context) error {
	return nil
}

func clone(a *domain.Account) *domain.Account {
	c := *a
	if a.RefreshExpiresAt != nil {
		exp := *a.RefreshExpiresAt
		c.RefreshExpiresAt = &exp
	}
	return &c
}

func checkPair(a *domain.Account) error {
	if (a.RefreshCredential == "") != (a.RefreshExpiresAt == nil) {
		return apperrors.InvalidInput("refresh credential and expiry must be set together")
	}
	return nil
}
