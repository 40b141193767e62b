package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/auth"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository/memory"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/service"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/health"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/middleware"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var defaultExcludedPaths = []string{"/login", "/join", "/refresh", "/status", "/logout", "/health/*", "/metrics", "/static/*"}

type testEnv struct {
	handler http.Handler
	repo    *memory.AccountRepository
}

type envOption func(*RouterConfig)

func withRevokeOnLogout() envOption {
	return func(c *RouterConfig) { c.RevokeOnLogout = true }
}

func withLimiter(t *testing.T, rps float64, burst int) envOption {
	return func(c *RouterConfig) {
		rl := middleware.NewRateLimiter(rps, burst, discardLogger())
		t.Cleanup(rl.Stop)
		c.LoginLimiter = rl
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	repo := memory.NewAccountRepository()
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	for _, seed := range []struct {
		username, nickname string
		role               domain.Role
	}{
		{"alice", "Alice", domain.RoleUser},
		{"root", "Root", domain.RoleAdmin},
	} {
		hash, err := hasher.Hash("pw")
		require.NoError(t, err)
		require.NoError(t, repo.Create(t.Context(), &domain.Account{
			Username: seed.username, Nickname: seed.nickname, PasswordHash: hash, Role: seed.role,
		}))
	}

	svc := service.NewSessionService(repo, auth.NewCodec(testSecret), hasher, nil, service.SessionConfig{
		AccessLifetime:  30 * time.Minute,
		RefreshLifetime: 7 * 24 * time.Hour,
	}, discardLogger())

	cfg := RouterConfig{
		ServiceName:   "catalog-session",
		Cookies:       CookieConfig{Domain: "localhost", MaxAge: 7200 * time.Hour},
		Authenticator: AuthenticatorConfig{ExcludedPaths: defaultExcludedPaths, RefreshPath: "/refresh"},
		CORS:          middleware.DefaultCORSConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &testEnv{handler: NewRouter(svc, health.NewHandler(), cfg, discardLogger()), repo: repo}
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) loginCookies(t *testing.T, username string) []*http.Cookie {
	t.Helper()
	rec := e.login(t, username, "pw")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec.Result().Cookies()
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rec)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

// ============================================================================
// POST /login
// ============================================================================

func TestLogin_SetsCredentialCookies(t *testing.T) {
	env := newTestEnv(t)

	rec := env.login(t, "alice", "pw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	cookies := rec.Result().Cookies()
	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := findCookie(cookies, name)
		require.NotNil(t, c, name)
		assert.NotEmpty(t, c.Value)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
		assert.Equal(t, "localhost", c.Domain)
		assert.Equal(t, int((7200 * time.Hour).Seconds()), c.MaxAge)
	}

	var data SessionResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, "alice", data.Principal.Username)
	assert.Equal(t, "Alice", data.Principal.Nickname)
	assert.Equal(t, domain.RoleUser, data.Principal.Role)
	assert.NotEmpty(t, data.RefreshExpiresAt)
	assert.NotContains(t, rec.Body.String(), findCookie(cookies, RefreshCookie).Value)
}

func TestLogin_Failures(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		username string
		password string
		status   int
		code     string
	}{
		{"wrong password", "alice", "nope", http.StatusForbidden, "CREDENTIAL_MISMATCH"},
		{"unknown account", "ghost", "pw", http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"missing password", "alice", "", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.login(t, tt.username, tt.password)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, errorCodeOf(t, rec))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestLogin_WrongPasswordDoesNotTouchSession(t *testing.T) {
	env := newTestEnv(t)
	env.loginCookies(t, "alice")

	before, err := env.repo.GetByUsername(t.Context(), "alice")
	require.NoError(t, err)

	rec := env.login(t, "alice", "nope")
	require.Equal(t, http.StatusForbidden, rec.Code)

	after, err := env.repo.GetByUsername(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, before.RefreshCredential, after.RefreshCredential)
	assert.Equal(t, before.Version, after.Version)
}

func TestLogin_RequiresJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("username=alice&password=pw"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", errorCodeOf(t, rec))
}

func TestLogin_RateLimited(t *testing.T) {
	env := newTestEnv(t, withLimiter(t, 0.001, 1))

	require.Equal(t, http.StatusOK, env.login(t, "alice", "pw").Code)

	rec := env.login(t, "alice", "pw")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCodeOf(t, rec))
}

func TestLogin_RateLimitKeysOnPeerAddress(t *testing.T) {
	env := newTestEnv(t, withLimiter(t, 0.001, 2))

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"nope"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		req.RemoteAddr = "203.0.113.9:4000"
		if env.do(req).Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, 18, limited)
}

// ============================================================================
// /refresh
// ============================================================================

func TestRefresh_RotatesCookies(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.loginCookies(t, "alice")
	r0 := findCookie(cookies, RefreshCookie)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil), r0)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	r1 := findCookie(rec.Result().Cookies(), RefreshCookie)
	require.NotNil(t, r1)
	assert.NotEqual(t, r0.Value, r1.Value)
	assert.NotEmpty(t, findCookie(rec.Result().Cookies(), AccessCookie).Value)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil), r0)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CREDENTIAL_NOT_FOUND", errorCodeOf(t, rec))

	rec = env.do(httptest.NewRequest(http.MethodPost, "/refresh", nil), r1)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_MissingCookie(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CREDENTIAL_NOT_FOUND", errorCodeOf(t, rec))
}

// ============================================================================
// /logout and /status
// ============================================================================

func TestLogout_ClearsCookies(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.loginCookies(t, "alice")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/logout", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, name := range []string{AccessCookie, RefreshCookie} {
		c := findCookie(rec.Result().Cookies(), name)
		require.NotNil(t, c, name)
		assert.Empty(t, c.Value)
		assert.Negative(t, c.MaxAge)
		assert.True(t, c.HttpOnly)
	}

	// Client-side logout only: the refresh credential still works.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil), findCookie(cookies, RefreshCookie))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogout_RevokesWhenConfigured(t *testing.T) {
	env := newTestEnv(t, withRevokeOnLogout())
	cookies := env.loginCookies(t, "alice")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/logout", nil), cookies...)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil), findCookie(cookies, RefreshCookie))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stored, err := env.repo.GetByUsername(t.Context(), "alice")
	require.NoError(t, err)
	assert.False(t, stored.HasSession())
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		cookies []*http.Cookie
		want    bool
	}{
		{"no cookies", nil, false},
		{"access only", []*http.Cookie{{Name: AccessCookie, Value: "a"}}, false},
		{"empty refresh", []*http.Cookie{{Name: AccessCookie, Value: "a"}, {Name: RefreshCookie, Value: ""}}, false},
		{"both present, unvalidated", []*http.Cookie{{Name: AccessCookie, Value: "garbage"}, {Name: RefreshCookie, Value: "r"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/status", nil), tt.cookies...)
			require.Equal(t, http.StatusOK, rec.Code)

			var data StatusResponse
			require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
			assert.Equal(t, tt.want, data.LoggedIn)
		})
	}
}

// ============================================================================
// Authenticator and /me
// ============================================================================

func TestMe_Authenticated(t *testing.T) {
	env := newTestEnv(t)
	cookies := env.loginCookies(t, "alice")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/me", nil), findCookie(cookies, AccessCookie))
	require.Equal(t, http.StatusOK, rec.Code)

	var p domain.Principal
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &p))
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, domain.RoleUser, p.Role)
}

func TestMe_AnonymousProceeds(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestAuthenticator_RedirectsToRefresh(t *testing.T) {
	env := newTestEnv(t)

	expired, err := auth.NewCodec(testSecret).
		WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).
		Sign(30*time.Minute, map[string]any{service.ClaimUsername: "alice"})
	require.NoError(t, err)

	ghost, err := auth.Sign(testSecret, time.Hour, map[string]any{service.ClaimUsername: "ghost"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"expired", expired, "TOKEN_EXPIRED"},
		{"garbage", "not-a-token", "TOKEN_INVALID"},
		{"deleted account", ghost, "ACCOUNT_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, "/me", nil), &http.Cookie{Name: AccessCookie, Value: tt.token})

			assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
			assert.Equal(t, "/refresh", rec.Header().Get("Location"))
			assert.Equal(t, tt.code, errorCodeOf(t, rec))
		})
	}
}

func TestAuthenticator_SkipsExcludedPaths(t *testing.T) {
	env := newTestEnv(t)
	bad := &http.Cookie{Name: AccessCookie, Value: "not-a-token"}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/status", nil), bad)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health/live", nil), bad)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/static/app.js", nil), bad)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingResolver struct{ err error }

func (f failingResolver) ResolveAccessToken(context.Context, string) (*domain.Account, error) {
	return nil, f.err
}

func TestAuthenticator_StoreOutageIsServerError(t *testing.T) {
	handler := Authenticator(
		failingResolver{err: errors.New("dial tcp: connection refused")},
		AuthenticatorConfig{ExcludedPaths: defaultExcludedPaths},
		discardLogger(),
	)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("next handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "some-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, "INTERNAL_ERROR", errorCodeOf(t, rec))
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

// ============================================================================
// DELETE /admin/accounts/{username}/session
// ============================================================================

func TestAdminRevokeSession(t *testing.T) {
	env := newTestEnv(t)
	aliceCookies := env.loginCookies(t, "alice")
	rootAccess := findCookie(env.loginCookies(t, "root"), AccessCookie)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/admin/accounts/alice/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/admin/accounts/alice/session", nil), findCookie(aliceCookies, AccessCookie))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCodeOf(t, rec))

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/admin/accounts/alice/session", nil), rootAccess)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/refresh", nil), findCookie(aliceCookies, RefreshCookie))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/admin/accounts/ghost/session", nil), rootAccess)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ACCOUNT_NOT_FOUND", errorCodeOf(t, rec))
}
