package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grantd/internal/platform/metrics"
	"grantd/internal/platform/middleware"
	ratelimit "grantd/internal/ratelimit/middleware"
	ratelimitModels "grantd/internal/ratelimit/models"
	"grantd/pkg/platform/httputil"
	"grantd/pkg/platform/middleware/device"
	"grantd/pkg/platform/middleware/metadata"
	"grantd/pkg/platform/middleware/request"
	"grantd/pkg/platform/middleware/requesttime"
)

// healthTimeout bounds a single backend ping.
const healthTimeout = 2 * time.Second

// HealthChecker pings the configured storage backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// RouterConfig carries everything the router mounts. A nil TrustedProxies
// ignores forwarding headers from every peer.
type RouterConfig struct {
	RoutePrefix    string
	Auth           *AuthHandler
	Decoder        middleware.TokenDecoder
	Revocations    middleware.RevocationChecker
	RateLimit      *ratelimit.Middleware
	TrustedProxies *metadata.TrustedProxies
	Health         HealthChecker
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// NewRouter wires the OAuth endpoints under the route prefix, plus /health
// and /metrics at the root.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(
		request.RequestID,
		request.Recovery(logger),
		request.Logger(logger, observer(cfg.Metrics)),
		requesttime.Middleware,
		metadata.ClientMetadata(cfg.TrustedProxies),
		device.Middleware,
	)

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mw := RouteMiddleware{
		Bearer: middleware.RequireBearer(cfg.Decoder, cfg.Revocations, logger),
	}
	if cfg.RateLimit != nil {
		mw.Authorize = cfg.RateLimit.RateLimit(ratelimitModels.ClassAuthorize)
		mw.Token = cfg.RateLimit.RateLimit(ratelimitModels.ClassToken)
	}
	r.Route(cfg.RoutePrefix, func(r chi.Router) {
		cfg.Auth.Register(r, mw)
	})
	return r
}

// observer keeps a nil *metrics.Metrics from becoming a non-nil interface.
func observer(m *metrics.Metrics) request.LatencyObserver {
	if m == nil {
		return nil
	}
	return m
}

func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := checker.Health(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
