package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	principalKey     contextKey = "principal"
	loggerKey        contextKey = "logger"
)

// Redacted replaces the value of any attribute that names a credential.
const Redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the log output,
// at any nesting depth. Matching is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"password":           {},
	"password_hash":      {},
	"access_token":       {},
	"accesstoken":        {},
	"refresh_token":      {},
	"refreshtoken":       {},
	"refresh_credential": {},
	"token":              {},
	"cookie":             {},
	"set-cookie":         {},
	"authorization":      {},
	"jwt_secret":         {},
}

// IsSensitive reports whether an attribute named key is masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if IsSensitive(a.Key) && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// ParseLevel maps a LOG_LEVEL value ("debug", "INFO", "warn", "error+2", ...)
// to a slog level, falling back to info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// New creates a JSON logger on stdout tagged with the service name.
func New(serviceName, level string) *slog.Logger {
	return NewWithWriter(serviceName, level, os.Stdout)
}

// NewWithWriter creates a JSON logger writing to w. Credential-bearing
// attributes are masked before they are encoded.
func NewWithWriter(serviceName, level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl <= slog.LevelDebug,
		ReplaceAttr: redact,
	})

	return slog.New(handler).With(
		slog.String("service", serviceName),
	)
}

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from the context.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

type principal struct {
	username string
	role     string
}

// WithPrincipal records the authenticated account for log enrichment. role
// may be empty.
func WithPrincipal(ctx context.Context, username, role string) context.Context {
	return context.WithValue(ctx, principalKey, principal{username: username, role: role})
}

// PrincipalFromContext returns the account stored by WithPrincipal, or empty
// strings for anonymous requests.
func PrincipalFromContext(ctx context.Context) (username, role string) {
	if p, ok := ctx.Value(principalKey).(principal); ok {
		return p.username, p.role
	}
	return "", ""
}

// NewContext returns a new context with the given logger stored in it.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger stored in context.
// Returns slog.Default() if no logger is stored.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// WithContext returns l enriched with the correlation id, the principal and
// its role, and the trace identifiers found in ctx.
func WithContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	var attrs []any
	if id := CorrelationIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("correlation_id", id))
	}
	if name, role := PrincipalFromContext(ctx); name != "" {
		attrs = append(attrs, slog.String("principal", name))
		if role != "" {
			attrs = append(attrs, slog.String("role", role))
		}
	}
	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
