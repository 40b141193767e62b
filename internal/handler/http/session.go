package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/auth"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/service"
	apperrors "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/errors"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/httputil"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/validator"
)

// SessionHandler handles HTTP requests for session endpoints.
type SessionHandler struct {
	service        *service.SessionService
	cookies        CookieConfig
	revokeOnLogout bool
	logger         *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(svc *service.SessionService, cookies CookieConfig, revokeOnLogout bool, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service:        svc,
		cookies:        cookies,
		revokeOnLogout: revokeOnLogout,
		logger:         logger,
	}
}

// --- Request DTOs ---

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=50,username"`
	Password string `json:"password" validate:"required,max=72"`
}

// --- Response types ---

// SessionResponse is returned by login and refresh. The credentials
// themselves only travel in cookies.
type SessionResponse struct {
	Principal        domain.Principal `json:"principal"`
	RefreshExpiresAt string           `json:"refresh_expires_at"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	LoggedIn bool `json:"logged_in"`
}

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

func sessionResponse(pair *domain.TokenPair) SessionResponse {
	return SessionResponse{
		Principal:        pair.Principal,
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

// --- Handlers ---

// Login handles POST /login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.setCredentials(w, pair)
	httputil.WriteData(w, http.StatusOK, sessionResponse(pair))
}

// Refresh handles GET and POST /refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	pair, err := h.service.Refresh(r.Context(), cookieValue(r, RefreshCookie))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookies.setCredentials(w, pair)
	httputil.WriteData(w, http.StatusOK, sessionResponse(pair))
}

// Logout handles GET /logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.revokeOnLogout {
		if err := h.service.RevokeByCredential(r.Context(), cookieValue(r, RefreshCookie)); err != nil {
			h.logger.ErrorContext(r.Context(), "failed to revoke session on logout",
				slog.String("error", err.Error()),
			)
		}
	}

	h.cookies.clearCredentials(w)
	httputil.WriteData(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Status handles GET /status. It only reports whether both cookies are
// present; neither is validated.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	loggedIn := cookieValue(r, AccessCookie) != "" && cookieValue(r, RefreshCookie) != ""
	httputil.WriteData(w, http.StatusOK, StatusResponse{LoggedIn: loggedIn})
}

// Me handles GET /me
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, domain.PrincipalOf(account))
}

// RevokeSession handles DELETE /admin/accounts/{username}/session
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.service.RevokeSession(r.Context(), username); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
