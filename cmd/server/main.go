package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"grantd/internal/auth/service"
	"grantd/internal/auth/worker"
	"grantd/internal/platform/config"
	"grantd/internal/platform/httpserver"
	"grantd/internal/platform/logger"
	"grantd/internal/platform/metrics"
	tokencodec "grantd/internal/token_codec"
	httptransport "grantd/internal/transport/http"
	"grantd/pkg/platform/audit/publisher"
	"grantd/pkg/platform/middleware/metadata"
)

// auditBufferSize bounds audit events queued for the sink.
const auditBufferSize = 1024

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	codec, err := tokencodec.New(cfg.SecretKey)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	stores, err := newBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store backend %s: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("failed to close store backend", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewWith(registry)

	auditStore, closeAudit, err := newAuditStore(ctx, cfg, stores, m, log)
	if err != nil {
		return fmt.Errorf("audit sink: %w", err)
	}
	if closeAudit != nil {
		defer func() { _ = closeAudit() }()
	}

	rateLimiter, err := newRateLimiter(cfg, stores, m, log)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetricsWith(registry)),
	)
	defer auditPublisher.Close()

	authService, err := service.New(
		stores.grants,
		stores.activeTokens,
		stores.refreshTokens,
		stores.revocations,
		codec,
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(m),
		service.WithTx(stores.tx),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	sweeper, err := worker.NewSweeper(stores.grants, cfg.SweepInterval,
		worker.WithRevocations(stores.revocationSweeper()),
		worker.WithLogger(log),
		worker.WithMetrics(m),
		worker.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		return fmt.Errorf("expiry sweeper: %w", err)
	}

	trustedProxies, err := metadata.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		RoutePrefix:    cfg.Server.RoutePrefix,
		Auth:           httptransport.NewAuthHandler(authService, log),
		Decoder:        codec,
		Revocations:    stores.revocations,
		RateLimit:      rateLimiter,
		TrustedProxies: trustedProxies,
		Health:         stores,
		Metrics:        m,
		Gatherer:       registry,
		Logger:         log,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting grantd",
			"addr", cfg.Server.Addr,
			"route_prefix", cfg.Server.RoutePrefix,
			"store_backend", cfg.StoreBackend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
