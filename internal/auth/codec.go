package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures. ErrMissingExpiry also matches ErrTokenInvalid so
// callers that only care about expired-vs-invalid can ignore it.
var (
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrMissingExpiry = fmt.Errorf("%w: missing expiry", ErrTokenInvalid)
)

const (
	claimIssuedAt  = "iat"
	claimExpiresAt = "exp"
)

// Claims is a verified token payload.
type Claims struct {
	Values    map[string]any
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String returns the string claim named key, or "" if it is absent or not a
// string.
func (c Claims) String(key string) string {
	s, _ := c.Values[key].(string)
	return s
}

// Codec signs and verifies HS256 tokens with a fixed secret. It holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a codec using the wall clock.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// WithClock returns a copy of c that reads time from now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	return &Codec{secret: c.secret, now: now}
}

// Sign embeds claims plus iat=now and exp=now+lifetime and signs the result.
// Caller claims named iat or exp are overwritten.
func (c *Codec) Sign(lifetime time.Duration, claims map[string]any) (string, error) {
	now := c.now()

	mc := make(jwt.MapClaims, len(claims)+2)
	for k, v := range claims {
		mc[k] = v
	}
	mc[claimIssuedAt] = jwt.NewNumericDate(now)
	mc[claimExpiresAt] = jwt.NewNumericDate(now.Add(lifetime))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature first and then the expiry. Tokens issued in
// the future, signed with another algorithm, or malformed in any way are
// reported as ErrTokenInvalid.
func (c *Codec) Verify(token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)

	mc := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, classify(err)
	}

	out := Claims{Values: map[string]any(mc)}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMissingExpiry
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// Sign is Codec.Sign with a one-off wall-clock codec.
func Sign(secret string, lifetime time.Duration, claims map[string]any) (string, error) {
	return NewCodec(secret).Sign(lifetime, claims)
}

// Verify is Codec.Verify with a one-off wall-clock codec.
func Verify(secret, token string) (Claims, error) {
	return NewCodec(secret).Verify(token)
}
