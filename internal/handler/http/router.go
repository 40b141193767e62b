package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/service"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/health"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/middleware"
)

// RouterConfig collects the transport settings of the router.
type RouterConfig struct {
	ServiceName       string
	Cookies           CookieConfig
	Authenticator     AuthenticatorConfig
	RevokeOnLogout    bool
	CORS              middleware.CORSConfig
	PprofAllowedCIDRs []string

	// LoginLimiter throttles /login and /refresh. Nil disables throttling.
	LoginLimiter *middleware.RateLimiter
}

// NewRouter creates a chi router with all session routes registered.
func NewRouter(
	sessionService *service.SessionService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(Authenticator(sessionService, cfg.Authenticator, logger))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	throttle := func(next http.Handler) http.Handler { return next }
	if cfg.LoginLimiter != nil {
		throttle = cfg.LoginLimiter.Handler
	}

	h := NewSessionHandler(sessionService, cfg.Cookies, cfg.RevokeOnLogout, logger)

	// Session endpoints (public)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NoStore)

		r.With(throttle, ContentTypeJSON).Post("/login", h.Login)
		r.With(throttle).Get("/refresh", h.Refresh)
		r.With(throttle).Post("/refresh", h.Refresh)
		r.Get("/logout", h.Logout)
		r.Get("/status", h.Status)
		r.Get("/me", h.Me)
	})

	// Administration
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.RequireRole(domain.RoleAdmin.String()))

		r.Delete("/accounts/{username}/session", h.RevokeSession)
	})

	return r
}
