package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/database"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

const (
	accountPrefix = "account:"
	idPrefix      = "account:id:"
	refreshPrefix = "account:refresh:"
	sequenceKey   = "account:seq"
)

// accountRecord is the stored form of an account. domain.Account hides its
// secrets from JSON, so the record spells every field out.
type accountRecord struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	Nickname          string     `json:"nickname"`
	PasswordHash      string     `json:"password_hash"`
	Role              string     `json:"role"`
	RefreshCredential string     `json:"refresh_credential,omitempty"`
	RefreshExpiresAt  *time.Time `json:"refresh_expires_at,omitempty"`
	Version           int64      `json:"version"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toRecord(a *domain.Account) accountRecord {
	return accountRecord{
		ID:                a.ID,
		Username:          a.Username,
		Nickname:          a.Nickname,
		PasswordHash:      a.PasswordHash,
		Role:              string(a.Role),
		RefreshCredential: a.RefreshCredential,
		RefreshExpiresAt:  a.RefreshExpiresAt,
		Version:           a.Version,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func (r accountRecord) toDomain() (*domain.Account, error) {
	role, err := domain.ParseRole(r.Role)
	if err != nil {
		return nil, fmt.Errorf("decode account %d: %w", r.ID, err)
	}
	a := &domain.Account{
		ID:           r.ID,
		Username:     r.Username,
		Nickname:     r.Nickname,
		PasswordHash: r.PasswordHash,
		Role:         role,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.RefreshCredential != "" && r.RefreshExpiresAt != nil {
		a.SetSession(r.RefreshCredential, *r.RefreshExpiresAt)
	}
	return a, nil
}

// AccountRepository implements repository.AccountRepository using Redis.
// Each account is a JSON document keyed by username with secondary keys for
// the numeric ID and the current refresh credential.
type AccountRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewAccountRepository creates a new Redis-backed account repository.
func NewAccountRepository(client *redis.Client) *AccountRepository {
	return &AccountRepository{client: client, now: func() time.Time { return time.Now().UTC() }}
}

// Create stores a new account, assigning it the next ID.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	if err := checkPair(a); err != nil {
		return err
	}

	ctx, end := database.TraceCommand(ctx, "CreateAccount", "WATCH/MULTI SET")
	defer func() { end(err) }()

	key := accountPrefix + a.Username
	id, err := r.client.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return fmt.Errorf("redis incr account sequence: %w", err)
	}

	now := r.now()
	rec := toRecord(a)
	rec.ID = id
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return apperrors.AlreadyExists("account", "username", a.Username)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Set(ctx, idPrefix+strconv.FormatInt(id, 10), a.Username, 0)
			if rec.RefreshCredential != "" {
				pipe.Set(ctx, refreshPrefix+rec.RefreshCredential, a.Username, 0)
			}
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return apperrors.AlreadyExists("account", "username", a.Username)
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return err
	case err != nil:
		return fmt.Errorf("redis create account: %w", err)
	}

	a.ID = rec.ID
	a.Version = rec.Version
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (_ *domain.Account, err error) {
	ctx, end := database.TraceCommand(ctx, "GetAccountByID", "GET")
	defer func() { end(ignoreNotFound(err)) }()

	sid := strconv.FormatInt(id, 10)
	username, err := r.client.Get(ctx, idPrefix+sid).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("account", sid)
		}
		return nil, fmt.Errorf("redis get account id: %w", err)
	}
	return r.get(ctx, username, "id", sid)
}

// GetByUsername retrieves an account by its username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (_ *domain.Account, err error) {
	ctx, end := database.TraceCommand(ctx, "GetAccountByUsername", "GET")
	defer func() { end(ignoreNotFound(err)) }()

	return r.get(ctx, username, "username", username)
}

// GetByRefreshCredential retrieves the account holding credential.
func (r *AccountRepository) GetByRefreshCredential(ctx context.Context, credential string) (_ *domain.Account, err error) {
	if credential == "" {
		return nil, apperrors.NotFoundBy("account", "refresh credential", "<empty>")
	}

	ctx, end := database.TraceCommand(ctx, "GetAccountByRefreshCredential", "GET")
	defer func() { end(ignoreNotFound(err)) }()

	username, err := r.client.Get(ctx, refreshPrefix+credential).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundBy("account", "refresh credential", "<redacted>")
		}
		return nil, fmt.Errorf("redis get refresh index: %w", err)
	}

	a, err := r.get(ctx, username, "refresh credential", "<redacted>")
	if err != nil {
		return nil, err
	}
	if a.RefreshCredential != credential {
		return nil, apperrors.NotFoundBy("account", "refresh credential", "<redacted>")
	}
	return a, nil
}

// UpdateSession rewrites the refresh pair if the stored version still
// matches a.Version. The refresh index moves in the same transaction.
func (r *AccountRepository) UpdateSession(ctx context.Context, a *domain.Account) (err error) {
	if err := checkPair(a); err != nil {
		return err
	}

	ctx, end := database.TraceCommand(ctx, "UpdateAccountSession", "WATCH/MULTI SET")
	defer func() { end(err) }()

	key := accountPrefix + a.Username
	now := r.now()
	conflict := apperrors.Conflict(fmt.Sprintf("account %d was modified concurrently", a.ID))

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.load(ctx, tx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return conflict
			}
			return err
		}
		if stored.ID != a.ID || stored.Version != a.Version {
			return conflict
		}

		oldCred := stored.RefreshCredential
		stored.RefreshCredential = a.RefreshCredential
		stored.RefreshExpiresAt = a.RefreshExpiresAt
		stored.Version++
		stored.UpdatedAt = now

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if oldCred != "" {
				pipe.Del(ctx, refreshPrefix+oldCred)
			}
			if stored.RefreshCredential != "" {
				pipe.Set(ctx, refreshPrefix+stored.RefreshCredential, stored.Username, 0)
			}
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return conflict
	case errors.Is(err, apperrors.ErrConflict):
		return err
	case err != nil:
		return fmt.Errorf("redis update account session: %w", err)
	}

	a.Version++
	a.UpdatedAt = now
	return nil
}

// Delete removes an account and its secondary keys.
func (r *AccountRepository) Delete(ctx context.Context, id int64) (err error) {
	ctx, end := database.TraceCommand(ctx, "DeleteAccount", "DEL")
	defer func() { end(ignoreNotFound(err)) }()

	a, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	keys := []string{accountPrefix + a.Username, idPrefix + strconv.FormatInt(id, 10)}
	if a.RefreshCredential != "" {
		keys = append(keys, refreshPrefix+a.RefreshCredential)
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del account: %w", err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (r *AccountRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *AccountRepository) get(ctx context.Context, username, field, shown string) (*domain.Account, error) {
	rec, err := r.load(ctx, r.client, accountPrefix+username)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFoundBy("account", field, shown)
		}
		return nil, err
	}
	return rec.toDomain()
}

// getter is the part of *redis.Client and *redis.Tx that load reads through.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *AccountRepository) load(ctx context.Context, c getter, key string) (*accountRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("redis get account: %w", err)
	}

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &rec, nil
}

func checkPair(a *domain.Account) error {
	if (a.RefreshCredential == "") != (a.RefreshExpiresAt == nil) {
		return apperrors.InvalidInput("refresh credential and expiry must be set together")
	}
	return nil
}

// ignoreNotFound keeps expected misses out of span errors.
func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
