package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/auth"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

// maxRotateAttempts bounds how often an unconditional session write re-reads
// the account after losing a version check.
const maxRotateAttempts = 3

// Claim names carried by access tokens.
const (
	ClaimUsername = "username"
	ClaimNickname = "nickname"
)

// Revocation triggers reported in events and metrics.
const (
	RevokedByLogout = "logout"
	RevokedByAdmin  = "admin"
)

// EventPublisher receives session lifecycle events. Implementations must not
// block for long; failures are logged and never fail the operation.
type EventPublisher interface {
	PublishSessionIssued(ctx context.Context, account *domain.Account) error
	PublishSessionRefreshed(ctx context.Context, account *domain.Account) error
	PublishSessionRevoked(ctx context.Context, account *domain.Account, reason string) error
}

// SessionConfig holds the credential lifetimes.
type SessionConfig struct {
	AccessLifetime  time.Duration
	RefreshLifetime time.Duration
}

// SessionService turns passwords into credentials, rotates refresh
// credentials and resolves access tokens back into accounts.
type SessionService struct {
	repo          repository.AccountRepository
	codec         *auth.Codec
	hasher        auth.PasswordHasher
	publisher     EventPublisher
	cfg           SessionConfig
	logger        *slog.Logger
	now           func() time.Time
	newCredential func() (string, error)
}

// NewSessionService creates a new session service. publisher may be nil.
func NewSessionService(
	repo repository.AccountRepository,
	codec *auth.Codec,
	hasher auth.PasswordHasher,
	publisher EventPublisher,
	cfg SessionConfig,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		repo:          repo,
		codec:         codec,
		hasher:        hasher,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
		newCredential: auth.NewRefreshCredential,
	}
}

// --- Credential issuance ---

// IssueAccessToken checks the password of username and signs a short-lived
// access token carrying the username and nickname.
func (s *SessionService) IssueAccessToken(ctx context.Context, username, password string) (string, error) {
	account, err := s.authenticate(ctx, username, password)
	if err != nil {
		return "", err
	}
	return s.signAccess(account)
}

// RotateRefreshCredential replaces the refresh credential of username with a
// fresh one expiring RefreshLifetime from now, and returns it. It does not
// check the previous credential.
func (s *SessionService) RotateRefreshCredential(ctx context.Context, username string) (string, error) {
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return "", err
	}
	if err := s.rotate(ctx, account, maxRotateAttempts); err != nil {
		return "", err
	}
	return account.RefreshCredential, nil
}

// Login issues an access token and a new refresh credential for a correct
// username and password. Any previous refresh credential stops working.
func (s *SessionService) Login(ctx context.Context, username, password string) (pair *domain.TokenPair, err error) {
	defer func() { loginsTotal.WithLabelValues(resultLabel(err)).Inc() }()

	account, err := s.authenticate(ctx, username, password)
	if err != nil {
		s.logRejection(ctx, "login rejected", username, err)
		return nil, err
	}

	access, err := s.signAccess(account)
	if err != nil {
		return nil, err
	}
	if err := s.rotate(ctx, account, maxRotateAttempts); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session issued", slog.String("username", account.Username))
	s.publish(ctx, "session.issued", func(ctx context.Context) error {
		return s.publisher.PublishSessionIssued(ctx, account)
	})

	return newTokenPair(access, account), nil
}

// Refresh exchanges a valid refresh credential for a new access token and a
// new refresh credential. The presented credential is consumed: of several
// concurrent refreshes with the same credential at most one succeeds.
func (s *SessionService) Refresh(ctx context.Context, presented string) (pair *domain.TokenPair, err error) {
	defer func() { refreshesTotal.WithLabelValues(resultLabel(err)).Inc() }()

	if presented == "" {
		return nil, domain.CredentialNotFound()
	}

	account, err := s.repo.GetByRefreshCredential(ctx, presented)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			err = domain.CredentialNotFound()
			s.logRejection(ctx, "refresh rejected", "", err)
			return nil, err
		}
		return nil, fmt.Errorf("get account by refresh credential: %w", err)
	}

	switch {
	case account.SessionExpired(s.now()):
		err = domain.StaleCredential()
	case !auth.CredentialsEqual(account.RefreshCredential, presented):
		err = domain.CredentialMismatch("refresh credential does not match")
	}
	if err != nil {
		s.logRejection(ctx, "refresh rejected", account.Username, err)
		return nil, err
	}

	access, err := s.signAccess(account)
	if err != nil {
		return nil, err
	}

	if err := s.rotate(ctx, account, 1); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			err = domain.CredentialMismatch("refresh credential already used")
			s.logRejection(ctx, "refresh rejected", account.Username, err)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "session refreshed", slog.String("username", account.Username))
	s.publish(ctx, "session.refreshed", func(ctx context.Context) error {
		return s.publisher.PublishSessionRefreshed(ctx, account)
	})

	return newTokenPair(access, account), nil
}

// --- Resolution ---

// ResolveAccessToken verifies token and returns the account it names.
func (s *SessionService) ResolveAccessToken(ctx context.Context, token string) (account *domain.Account, err error) {
	defer func() { resolutionsTotal.WithLabelValues(resultLabel(err)).Inc() }()

	claims, err := s.codec.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			err = domain.TokenExpired()
		case errors.Is(err, auth.ErrMissingExpiry):
			err = domain.TokenInvalid("access token has no expiry")
		default:
			err = domain.TokenInvalid("access token is invalid")
		}
		s.logger.DebugContext(ctx, "access token rejected", slog.String("reason", resultLabel(err)))
		return nil, err
	}

	username := claims.String(ClaimUsername)
	if username == "" {
		return nil, domain.TokenInvalid("access token names no account")
	}

	account, err = s.getAccount(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			s.logRejection(ctx, "access token names unknown account", username, err)
		}
		return nil, err
	}
	return account, nil
}

// --- Revocation ---

// RevokeSession clears the refresh credential of username. Revoking an
// account without a session succeeds.
func (s *SessionService) RevokeSession(ctx context.Context, username string) error {
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return err
	}
	return s.revoke(ctx, account, RevokedByAdmin)
}

// RevokeByCredential clears the session holding credential. An unknown
// credential is not an error.
func (s *SessionService) RevokeByCredential(ctx context.Context, credential string) error {
	if credential == "" {
		return nil
	}

	account, err := s.repo.GetByRefreshCredential(ctx, credential)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get account by refresh credential: %w", err)
	}
	if !auth.CredentialsEqual(account.RefreshCredential, credential) {
		return nil
	}
	return s.revoke(ctx, account, RevokedByLogout)
}

func (s *SessionService) revoke(ctx context.Context, account *domain.Account, reason string) error {
	if !account.HasSession() {
		return nil
	}

	err := s.updateSession(ctx, account, maxRotateAttempts, func(a *domain.Account) error {
		a.ClearSession()
		return nil
	})
	if err != nil {
		return err
	}

	revocationsTotal.WithLabelValues(reason).Inc()
	s.logger.InfoContext(ctx, "session revoked",
		slog.String("username", account.Username),
		slog.String("reason", reason),
	)
	s.publish(ctx, "session.revoked", func(ctx context.Context) error {
		return s.publisher.PublishSessionRevoked(ctx, account, reason)
	})
	return nil
}

// --- Helpers ---

func (s *SessionService) authenticate(ctx context.Context, username, password string) (*domain.Account, error) {
	account, err := s.getAccount(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, domain.CredentialMismatch("password does not match")
		}
		return nil, err
	}
	return account, nil
}

func (s *SessionService) getAccount(ctx context.Context, username string) (*domain.Account, error) {
	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, domain.AccountNotFound(username)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *SessionService) signAccess(account *domain.Account) (string, error) {
	return s.codec.Sign(s.cfg.AccessLifetime, map[string]any{
		ClaimUsername: account.Username,
		ClaimNickname: account.Nickname,
	})
}

// rotate installs a fresh refresh credential on account and persists it.
func (s *SessionService) rotate(ctx context.Context, account *domain.Account, attempts int) error {
	return s.updateSession(ctx, account, attempts, func(a *domain.Account) error {
		credential, err := s.newCredential()
		if err != nil {
			return err
		}
		a.SetSession(credential, s.now().Add(s.cfg.RefreshLifetime))
		return nil
	})
}

// updateSession applies mutate and writes the refresh pair, re-reading the
// account and trying again when the version check fails. On success *account
// holds the stored state.
func (s *SessionService) updateSession(ctx context.Context, account *domain.Account, attempts int, mutate func(*domain.Account) error) error {
	current := account
	for attempt := 1; ; attempt++ {
		if err := mutate(current); err != nil {
			return err
		}

		err := s.repo.UpdateSession(ctx, current)
		if err == nil {
			*account = *current
			return nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return fmt.Errorf("update session: %w", err)
		}

		rotationConflictsTotal.Inc()
		if attempt >= attempts {
			return err
		}

		s.logger.DebugContext(ctx, "session write lost version check, retrying",
			slog.String("username", account.Username),
			slog.Int("attempt", attempt),
		)
		if current, err = s.getAccount(ctx, account.Username); err != nil {
			return err
		}
	}
}

func (s *SessionService) publish(ctx context.Context, name string, fn func(context.Context) error) {
	if s.publisher == nil {
		return
	}
	if err := fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish "+name+" event", slog.String("error", err.Error()))
	}
}

func (s *SessionService) logRejection(ctx context.Context, msg, username string, err error) {
	attrs := []any{slog.String("reason", resultLabel(err))}
	if username != "" {
		attrs = append(attrs, slog.String("username", username))
	}
	s.logger.WarnContext(ctx, msg, attrs...)
}

func newTokenPair(access string, account *domain.Account) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     account.RefreshCredential,
		RefreshExpiresAt: *account.RefreshExpiresAt,
		Principal:        domain.PrincipalOf(account),
	}
}
