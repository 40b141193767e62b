package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// refreshCredentialBytes gives 256 bits of entropy, encoded as 43 URL-safe
// characters.
const refreshCredentialBytes = 32

// NewRefreshCredential returns a fresh opaque refresh credential.
func NewRefreshCredential() (string, error) {
	buf := make([]byte, refreshCredentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CredentialsEqual compares two credentials in constant time.
func CredentialsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
