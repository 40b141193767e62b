package domain

import (
	"time"
)

// Account is a registered catalog user as seen by the session layer. Identity
// fields are owned by user management; RefreshCredential and RefreshExpiresAt
// belong to the session layer and are only ever written together.
type Account struct {
	ID                int64      `json:"id"`
	Username          string     `json:"username"`
	Nickname          string     `json:"nickname"`
	PasswordHash      string     `json:"-"`
	Role              Role       `json:"role"`
	RefreshCredential string     `json:"-"`
	RefreshExpiresAt  *time.Time `json:"-"`
	Version           int64      `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// HasSession reports whether the account holds a refresh credential.
func (a *Account) HasSession() bool {
	return a.RefreshCredential != "" && a.RefreshExpiresAt != nil
}

// SetSession installs a refresh credential and its expiry.
func (a *Account) SetSession(credential string, expiresAt time.Time) {
	exp := expiresAt.UTC()
	a.RefreshCredential = credential
	a.RefreshExpiresAt = &exp
}

// ClearSession removes the refresh credential and its expiry.
func (a *Account) ClearSession() {
	a.RefreshCredential = ""
	a.RefreshExpiresAt = nil
}

// SessionExpired reports whether the refresh credential is no longer
// accepted at now. An account without a session counts as expired.
func (a *Account) SessionExpired(now time.Time) bool {
	return a.RefreshExpiresAt == nil || !a.RefreshExpiresAt.After(now)
}

// IsAdmin is the capability check used by authorization collaborators.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// TokenPair is what a successful login or refresh hands back to the caller.
type TokenPair struct {
	AccessToken      string    `json:"-"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Principal        Principal `json:"principal"`
}

// Principal is the public view of the authenticated account.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
}

// PrincipalOf projects an account onto its public view.
func PrincipalOf(a *Account) Principal {
	return Principal{ID: a.ID, Username: a.Username, Nickname: a.Nickname, Role: a.Role}
}
