package auth

import (
	"context"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
)

type accountKey struct{}

// WithAccount attaches the authenticated account to ctx.
func WithAccount(ctx context.Context, a *domain.Account) context.Context {
	return context.WithValue(ctx, accountKey{}, a)
}

// AccountFromContext returns the authenticated account, or nil and false
// for anonymous requests. Other catalog handlers use it for authorization.
func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	a, ok := ctx.Value(accountKey{}).(*domain.Account)
	return a, ok && a != nil
}
