package domain

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
)

// Session failure kinds. Each AppError built below wraps exactly one of these
// plus the matching class sentinel from pkg/errors.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrCredentialMismatch = errors.New("credential mismatch")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrStaleCredential    = errors.New("stale credential")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
)

func sessionError(code, message string, status int, kind, class error) *apperrors.AppError {
	return apperrors.New(code, message, status, fmt.Errorf("%w: %w", kind, class))
}

// AccountNotFound is returned when no account has the given username.
func AccountNotFound(username string) *apperrors.AppError {
	return sessionError("ACCOUNT_NOT_FOUND", fmt.Sprintf("account %q not found", username),
		http.StatusNotFound, ErrAccountNotFound, apperrors.ErrNotFound)
}

// CredentialMismatch covers a wrong password and a refresh credential that
// does not match the stored one.
func CredentialMismatch(reason string) *apperrors.AppError {
	return sessionError("CREDENTIAL_MISMATCH", reason,
		http.StatusForbidden, ErrCredentialMismatch, apperrors.ErrForbidden)
}

// CredentialNotFound is returned when no account holds the presented refresh
// credential.
func CredentialNotFound() *apperrors.AppError {
	return sessionError("CREDENTIAL_NOT_FOUND", "refresh credential not recognized",
		http.StatusForbidden, ErrCredentialNotFound, apperrors.ErrForbidden)
}

// StaleCredential is returned for a refresh credential past its expiry.
func StaleCredential() *apperrors.AppError {
	return sessionError("STALE_CREDENTIAL", "refresh credential has expired",
		http.StatusForbidden, ErrStaleCredential, apperrors.ErrForbidden)
}

// TokenExpired is returned for an access token past its expiry.
func TokenExpired() *apperrors.AppError {
	return sessionError("TOKEN_EXPIRED", "access token has expired",
		http.StatusUnauthorized, ErrTokenExpired, apperrors.ErrUnauthorized)
}

// TokenInvalid is returned for an access token that fails verification for
// any reason other than expiry.
func TokenInvalid(reason string) *apperrors.AppError {
	return sessionError("TOKEN_INVALID", reason,
		http.StatusUnauthorized, ErrTokenInvalid, apperrors.ErrUnauthorized)
}

// IsTokenFailure reports whether err means the access token should be
// refreshed rather than treated as a hard failure.
func IsTokenFailure(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid)
}
