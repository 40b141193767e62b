package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/domain"
	pkgkafka "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/kafka"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/logger"
)

// Kafka topic constants for session events.
const (
	TopicSessionIssued    = "catalog.session.issued"
	TopicSessionRefreshed = "catalog.session.refreshed"
	TopicSessionRevoked   = "catalog.session.revoked"
)

// Aggregate type constant.
const AggregateTypeAccount = "account"

// Source identifier for events originating from the session service.
const SourceSessionService = "catalog-session"

// ErrBreakerOpen is returned while the breaker rejects publishes.
var ErrBreakerOpen = gobreaker.ErrOpenState

// SessionData is the payload of every session event. Credentials never
// leave the service.
type SessionData struct {
	AccountID        int64      `json:"account_id"`
	Username         string     `json:"username"`
	Role             string     `json:"role"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// BreakerConfig tunes the circuit breaker guarding the broker.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the breaker settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

var breakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "catalog_session_event_breaker_state",
	Help: "State of the session event circuit breaker (0=closed, 1=half-open, 2=open)",
})

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// publisher is the part of *pkgkafka.Producer used here.
type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes session events to Kafka. Once the broker keeps failing
// the breaker opens and publishes fail fast until it half-opens again.
type Producer struct {
	kafka   publisher
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewProducer creates a new session event producer.
func NewProducer(kafka *pkgkafka.Producer, cfg BreakerConfig, logger *slog.Logger) *Producer {
	return newProducer(kafka, cfg, logger)
}

func newProducer(kafka publisher, cfg BreakerConfig, logger *slog.Logger) *Producer {
	settings := gobreaker.Settings{
		Name:        "session-events",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.Set(stateToFloat(to))
		},
	}
	breakerState.Set(0)

	return &Producer{
		kafka:   kafka,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

// PublishSessionIssued publishes a session.issued event.
func (p *Producer) PublishSessionIssued(ctx context.Context, account *domain.Account) error {
	return p.publish(ctx, TopicSessionIssued, account, "")
}

// PublishSessionRefreshed publishes a session.refreshed event.
func (p *Producer) PublishSessionRefreshed(ctx context.Context, account *domain.Account) error {
	return p.publish(ctx, TopicSessionRefreshed, account, "")
}

// PublishSessionRevoked publishes a session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, account *domain.Account, reason string) error {
	return p.publish(ctx, TopicSessionRevoked, account, reason)
}

// State returns the current breaker state.
func (p *Producer) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Producer) publish(ctx context.Context, topic string, account *domain.Account, reason string) error {
	data := SessionData{
		AccountID:        account.ID,
		Username:         account.Username,
		Role:             account.Role.String(),
		RefreshExpiresAt: account.RefreshExpiresAt,
		Reason:           reason,
	}

	event, err := pkgkafka.NewEvent(topic, strconv.FormatInt(account.ID, 10), AggregateTypeAccount, SourceSessionService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	actor, _ := logger.PrincipalFromContext(ctx)
	event.WithMetadata("role", data.Role).
		WithMetadata("reason", reason).
		WithMetadata("actor", actor)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.kafka.Publish(ctx, topic, event)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("publish %s event: %w", topic, ErrBreakerOpen)
		}
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published session event",
		slog.String("topic", topic),
		slog.String("username", account.Username),
	)
	return nil
}
