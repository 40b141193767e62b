package http

import (
	"net/http"
	"time"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
)

// Cookie names shared with the browser client.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// CookieConfig holds the attributes of both credential cookies.
type CookieConfig struct {
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// setCredentials writes both credential cookies.
func (c CookieConfig) setCredentials(w http.ResponseWriter, pair *domain.TokenPair) {
	maxAge := int(c.MaxAge / time.Second)
	http.SetCookie(w, c.cookie(AccessCookie, pair.AccessToken, maxAge))
	http.SetCookie(w, c.cookie(RefreshCookie, pair.RefreshToken, maxAge))
}

// clearCredentials overwrites both credential cookies with empty, expired
// values.
func (c CookieConfig) clearCredentials(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshCookie, "", -1))
}

// cookieValue returns the named cookie's value, or "" when it is absent.
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
