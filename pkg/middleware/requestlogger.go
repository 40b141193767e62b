package middleware

import (
	"log/slog"
	"net/http"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/logger"
)

// RequestLogger stores a request-scoped logger carrying correlation_id,
// principal, role, trace_id and span_id in the context for logger.FromContext.
//
// Mount it after RequestLogging, Tracing and the service authenticator so all
// of those fields are already in the context.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if name := UsernameFromContext(ctx); name != "" {
				ctx = logger.WithPrincipal(ctx, name, RoleFromContext(ctx))
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
