package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"grantd/internal/auth/service"
	activetoken "grantd/internal/auth/store/active-token"
	authcode "grantd/internal/auth/store/authorization-code"
	refreshtoken "grantd/internal/auth/store/refresh-token"
	"grantd/internal/auth/store/revocation"
	"grantd/internal/auth/worker"
	"grantd/internal/platform/config"
	"grantd/internal/platform/kafka"
	"grantd/internal/platform/metrics"
	"grantd/internal/platform/postgres"
	"grantd/internal/platform/redis"
	ratelimit "grantd/internal/ratelimit/middleware"
	ratelimitModels "grantd/internal/ratelimit/models"
	"grantd/internal/ratelimit/store/bucket"
	"grantd/pkg/platform/audit"
	"grantd/pkg/platform/audit/store/fallback"
	kafkaaudit "grantd/pkg/platform/audit/store/kafka"
	auditmemory "grantd/pkg/platform/audit/store/memory"
	postgresaudit "grantd/pkg/platform/audit/store/postgres"
	"grantd/pkg/platform/circuit"

	goredis "github.com/redis/go-redis/v9"
)

// revocationList is what both the service and the bearer middleware need.
type revocationList interface {
	service.RevocationList
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// grantStore is a pending-grant store that can also be swept.
type grantStore interface {
	service.GrantStore
	worker.GrantSweeper
}

// backend holds the stores for the configured STORE_BACKEND plus whatever
// must be closed on shutdown.
type backend struct {
	grants        grantStore
	activeTokens  service.ActiveTokenStore
	refreshTokens service.RefreshTokenStore
	revocations   revocationList
	tx            service.AuthStoreTx
	health        func(context.Context) error
	db            *sql.DB
	redis         *goredis.Client
	closers       []func() error
}

func (b *backend) Health(ctx context.Context) error {
	if b.health == nil {
		return nil
	}
	return b.health(ctx)
}

// revocationSweeper returns the revocation list when it needs sweeping.
// Redis expires revocation keys itself.
func (b *backend) revocationSweeper() worker.RevocationSweeper {
	if s, ok := b.revocations.(worker.RevocationSweeper); ok {
		return s
	}
	return nil
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func newBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, errors.New("REDIS_URL is required for the redis backend")
		}
		return &backend{
			grants:        authcode.NewRedis(client.Client),
			activeTokens:  activetoken.NewRedis(client.Client),
			refreshTokens: refreshtoken.NewRedis(client.Client),
			revocations:   revocation.NewRedisTRL(client.Client),
			tx:            service.InProcessTx{},
			health:        client.Health,
			redis:         client.Client,
			closers:       []func() error{client.Close},
		}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &backend{
			grants:        authcode.NewPostgres(db),
			activeTokens:  activetoken.NewPostgres(db),
			refreshTokens: refreshtoken.NewPostgres(db),
			revocations:   revocation.NewPostgresTRL(db),
			tx:            newAuthPostgresTx(db),
			health:        db.PingContext,
			db:            db,
			closers:       []func() error{db.Close},
		}, nil

	case config.BackendMemory, "":
		return &backend{
			grants:        authcode.New(),
			activeTokens:  activetoken.New(),
			refreshTokens: refreshtoken.New(),
			revocations:   revocation.NewInMemoryTRL(),
			tx:            service.InProcessTx{},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newAuditStore picks the audit sink: Kafka when brokers are configured,
// the audit_events table on the postgres backend, memory otherwise. Kafka is
// guarded by a breaker that diverts to the local sink while it fails.
func newAuditStore(ctx context.Context, cfg config.Config, b *backend, m *metrics.Metrics, logger *slog.Logger) (audit.Store, func() error, error) {
	local := localAuditStore(b)
	if len(cfg.Kafka.Brokers) == 0 {
		logger.InfoContext(ctx, "audit sink: local", "postgres", b.db != nil)
		return local, nil, nil
	}

	client, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if err := client.EnsureTopic(ctx, cfg.Kafka.Topic); err != nil {
		client.Close()
		return nil, nil, err
	}
	logger.InfoContext(ctx, "audit sink: kafka", "topic", cfg.Kafka.Topic)
	store := fallback.New(kafkaaudit.New(client, cfg.Kafka.Topic), local, circuit.New("audit"),
		fallback.WithLogger(logger),
		fallback.WithObserver(m),
	)
	return store, func() error { client.Close(); return nil }, nil
}

func localAuditStore(b *backend) audit.Store {
	if b.db != nil {
		return postgresaudit.New(b.db)
	}
	return auditmemory.NewInMemoryStore()
}

// newRateLimiter builds the per-IP limiter for /authorize and /token. On the
// redis backend buckets are shared across replicas, with an in-memory
// fallback while Redis is unreachable.
func newRateLimiter(cfg config.Config, b *backend, m *metrics.Metrics, logger *slog.Logger) (*ratelimit.Middleware, error) {
	limits := map[ratelimitModels.EndpointClass]ratelimitModels.Limit{
		ratelimitModels.ClassAuthorize: {RequestsPerWindow: cfg.RateLimit.Authorize, Window: cfg.RateLimit.Window},
		ratelimitModels.ClassToken:     {RequestsPerWindow: cfg.RateLimit.Token, Window: cfg.RateLimit.Window},
	}
	opts := []ratelimit.Option{ratelimit.WithDisabled(cfg.RateLimit.Disabled), ratelimit.WithMetrics(m)}
	if cfg.RateLimit.Disabled {
		return ratelimit.New(nil, logger, opts...), nil
	}

	local, err := ratelimit.NewLimiter(bucket.New(), limits)
	if err != nil {
		return nil, err
	}
	if b.redis == nil {
		return ratelimit.New(local, logger, opts...), nil
	}

	shared, err := ratelimit.NewLimiter(bucket.NewRedis(b.redis), limits)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewFallbackLimiter(shared, local, circuit.New("ratelimit"), m, logger)
	return ratelimit.New(limiter, logger, opts...), nil
}
