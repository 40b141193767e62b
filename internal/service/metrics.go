package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
)

var (
	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_session_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_session_refreshes_total",
			Help: "Refresh attempts by result",
		},
		[]string{"result"},
	)

	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_session_token_resolutions_total",
			Help: "Access token resolutions by result",
		},
		[]string{"result"},
	)

	rotationConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_session_rotation_conflicts_total",
			Help: "Session writes that lost an optimistic version check",
		},
	)

	revocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_session_revocations_total",
			Help: "Server-side session revocations by trigger",
		},
		[]string{"reason"},
	)
)

// resultLabel maps an operation outcome onto a bounded label value.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, domain.ErrCredentialMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, domain.ErrStaleCredential):
		return "stale"
	case errors.Is(err, domain.ErrTokenExpired):
		return "expired"
	case errors.Is(err, domain.ErrTokenInvalid):
		return "invalid"
	default:
		return "error"
	}
}
