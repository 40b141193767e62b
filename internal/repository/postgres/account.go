package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/database"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

const accountColumns = `id, username, nickname, password_hash, role, refresh_credential, refresh_expires_at, version, created_at, updated_at`

// AccountRepository implements repository.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewAccountRepository creates a new PostgreSQL-backed account repository.
func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a new account into the database.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) (err error) {
	cred, exp, err := sessionArgs(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO accounts (username, nickname, password_hash, role, refresh_credential, refresh_expires_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		RETURNING id, version`

	ctx, end := database.TraceQuery(ctx, "CreateAccount", query)
	defer func() { end(err) }()

	now := r.now()
	err = r.db.QueryRow(ctx, query,
		a.Username,
		a.Nickname,
		a.PasswordHash,
		string(a.Role),
		cred,
		exp,
		now,
	).Scan(&a.ID, &a.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("account", "username", a.Username)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(ctx, "GetAccountByID", query, "id", strconv.FormatInt(id, 10), id)
}

// GetByUsername retrieves an account by its username.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return r.scanAccount(ctx, "GetAccountByUsername", query, "username", username, username)
}

// GetByRefreshCredential retrieves the account holding credential.
func (r *AccountRepository) GetByRefreshCredential(ctx context.Context, credential string) (*domain.Account, error) {
	if credential == "" {
		return nil, apperrors.NotFoundBy("account", "refresh credential", "<empty>")
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE refresh_credential = $1`
	return r.scanAccount(ctx, "GetAccountByRefreshCredential", query, "refresh credential", "<redacted>", credential)
}

// UpdateSession rewrites the refresh pair guarded by the version column.
func (r *AccountRepository) UpdateSession(ctx context.Context, a *domain.Account) (err error) {
	cred, exp, err := sessionArgs(a)
	if err != nil {
		return err
	}

	query := `
		UPDATE accounts
		SET refresh_credential = $1, refresh_expires_at = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`

	ctx, end := database.TraceQuery(ctx, "UpdateAccountSession", query)
	defer func() { end(err) }()

	now := r.now()
	ct, err := r.db.Exec(ctx, query, cred, exp, now, a.ID, a.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("refresh credential collision")
		}
		return fmt.Errorf("update account session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("account %d was modified concurrently", a.ID))
	}

	a.Version++
	a.UpdatedAt = now
	return nil
}

// Delete removes an account from the database by its ID.
func (r *AccountRepository) Delete(ctx context.Context, id int64) (err error) {
	query := `DELETE FROM accounts WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteAccount", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("account", strconv.FormatInt(id, 10))
	}

	return nil
}

// Ping checks connectivity to the database.
func (r *AccountRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// scanAccount executes a query expected to return a single account row.
func (r *AccountRepository) scanAccount(ctx context.Context, operation, query, field, shown string, args ...any) (a *domain.Account, err error) {
	ctx, end := database.TraceQuery(ctx, operation, query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var (
		acct domain.Account
		role string
		cred *string
		exp  *time.Time
	)

	err = r.db.QueryRow(ctx, query, args...).Scan(
		&acct.ID,
		&acct.Username,
		&acct.Nickname,
		&acct.PasswordHash,
		&role,
		&cred,
		&exp,
		&acct.Version,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundBy("account", field, shown)
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	if acct.Role, err = domain.ParseRole(role); err != nil {
		return nil, fmt.Errorf("scan account %d: %w", acct.ID, err)
	}
	if cred != nil && exp != nil {
		acct.SetSession(*cred, *exp)
	}
	return &acct, nil
}

// sessionArgs returns the refresh pair as nullable query arguments. A half-set
// pair is rejected before it reaches the database.
func sessionArgs(a *domain.Account) (credential, expiresAt any, err error) {
	hasCred := a.RefreshCredential != ""
	hasExp := a.RefreshExpiresAt != nil
	switch {
	case hasCred && hasExp:
		return a.RefreshCredential, a.RefreshExpiresAt.UTC(), nil
	case !hasCred && !hasExp:
		return nil, nil, nil
	default:
		return nil, nil, apperrors.InvalidInput("refresh credential and expiry must be set together")
	}
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
