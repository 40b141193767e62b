package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/auth"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/config"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/event"
	handler "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/handler/http"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository/memory"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository/postgres"
	redisrepo "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/repository/redis"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/internal/service"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/migrations"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/database"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/health"
	pkgkafka "github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/kafka"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/middleware"
	"github.com/prgrms-be-devcourse/NBE4-5-3-Team03-sub000/pkg/tracing"
)

const serviceName = "catalog-session"

// App wires together all dependencies and runs the session service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	limiter        *middleware.RateLimiter
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, tracerShutdown: tracerShutdown}
	healthHandler := health.NewHandler()

	repo, err := a.openStore(ctx, healthHandler)
	if err != nil {
		_ = a.Shutdown()
		return nil, err
	}

	var publisher service.EventPublisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(a.producer, event.DefaultBreakerConfig(), logger)
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	sessionService := service.NewSessionService(
		repo,
		auth.NewCodec(cfg.JWTSecret),
		auth.NewBcryptHasher(),
		publisher,
		service.SessionConfig{
			AccessLifetime:  cfg.AccessTokenLifetime,
			RefreshLifetime: cfg.RefreshLifetime(),
		},
		logger,
	)

	if cfg.LoginRateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.LoginRateLimitRPS, cfg.LoginRateLimitBurst, logger, cfg.TrustedProxyCIDRs...)
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(sessionService, healthHandler, handler.RouterConfig{
		ServiceName: serviceName,
		Cookies: handler.CookieConfig{
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.CookieMaxAge,
		},
		Authenticator: handler.AuthenticatorConfig{
			ExcludedPaths: cfg.AuthExcludedPaths,
			RefreshPath:   "/refresh",
		},
		RevokeOnLogout:    cfg.RevokeOnLogout,
		CORS:              cors,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
		LoginLimiter:      a.limiter,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// openStore connects the configured account store and registers its
// readiness check.
func (a *App) openStore(ctx context.Context, healthHandler *health.Handler) (repository.AccountRepository, error) {
	cfg := a.cfg

	switch cfg.AccountStore {
	case config.StorePostgres:
		pgCfg := database.PostgresConfig{
			Host:            cfg.PostgresHost,
			Port:            cfg.PostgresPort,
			User:            cfg.PostgresUser,
			Password:        cfg.PostgresPass,
			DBName:          cfg.PostgresDB,
			SSLMode:         cfg.PostgresSSL,
			MaxConns:        cfg.DBMaxConns,
			MinConns:        cfg.DBMinConns,
			MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
			MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
		}
		pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", cfg.PostgresHost),
			slog.Int("port", cfg.PostgresPort),
			slog.String("database", cfg.PostgresDB),
		)

		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, err
		}
		a.logger.Info("database migrations completed")

		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
		}

		repo := postgres.NewAccountRepository(pool)
		healthHandler.RegisterCritical("postgres", repo.Ping)
		return repo, nil

	case config.StoreRedis:
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.logger.Info("connected to Redis", slog.String("addr", client.Options().Addr))

		repo := redisrepo.NewAccountRepository(client)
		healthHandler.RegisterCritical("redis", repo.Ping)
		return repo, nil

	case config.StoreMemory:
		a.logger.Warn("using in-memory account store; sessions are lost on restart")
		return memory.NewAccountRepository(), nil
	}

	return nil, fmt.Errorf("unknown account store %q", cfg.AccountStore)
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Account store connections
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	if a.httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer httpCancel()
		if err := a.httpServer.Shutdown(httpCtx); err != nil {
			a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
