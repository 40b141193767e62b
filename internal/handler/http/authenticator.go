package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/auth"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/httputil"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/middleware"
)

// AccountResolver maps an access token to the account it names.
type AccountResolver interface {
	ResolveAccessToken(ctx context.Context, token string) (*domain.Account, error)
}

// AuthenticatorConfig configures the request authenticator.
type AuthenticatorConfig struct {
	// ExcludedPaths skip authentication entirely. A trailing "*" matches by
	// prefix.
	ExcludedPaths []string

	// RefreshPath is where failed authentications are redirected.
	RefreshPath string
}

// Authenticator resolves the access cookie of every request that is not on
// the allow-list. Requests without the cookie proceed anonymously. A cookie
// that cannot be resolved ends the request with a 307 to the refresh
// endpoint and the failure as the JSON body.
func Authenticator(resolver AccountResolver, cfg AuthenticatorConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	excluded := newPathMatcher(cfg.ExcludedPaths)
	refreshPath := cfg.RefreshPath
	if refreshPath == "" {
		refreshPath = "/refresh"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded.match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := cookieValue(r, AccessCookie)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			account, err := resolver.ResolveAccessToken(r.Context(), token)
			if err != nil {
				var appErr *apperrors.AppError
				if !errors.As(err, &appErr) {
					httputil.WriteError(w, r, err, logger)
					return
				}

				status, body := httputil.ErrorBody(r, err)
				logger.DebugContext(r.Context(), "authentication failed, redirecting to refresh",
					slog.String("path", r.URL.Path),
					slog.String("code", body.Code),
					slog.Int("status", status),
				)
				w.Header().Set("Location", refreshPath)
				httputil.WriteJSON(w, http.StatusTemporaryRedirect, httputil.Response{Error: body})
				return
			}

			ctx := middleware.WithIdentity(r.Context(), account.Username, account.Role.String())
			ctx = auth.WithAccount(ctx, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
