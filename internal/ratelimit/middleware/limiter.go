package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"grantd/internal/ratelimit/models"
	"grantd/pkg/platform/circuit"
)

// BucketStore is a sliding-window counter keyed by string.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// Limiter implements RateLimiter with one quota per endpoint class.
type Limiter struct {
	buckets BucketStore
	limits  map[models.EndpointClass]models.Limit
}

// NewLimiter creates a Limiter. Classes without a limit are not throttled.
func NewLimiter(buckets BucketStore, limits map[models.EndpointClass]models.Limit) (*Limiter, error) {
	if buckets == nil {
		return nil, fmt.Errorf("bucket store is required")
	}
	for class, l := range limits {
		if !class.IsValid() {
			return nil, fmt.Errorf("unknown endpoint class %q", class)
		}
		if l.RequestsPerWindow <= 0 || l.Window <= 0 {
			return nil, fmt.Errorf("limit for %q must be positive", class)
		}
	}
	return &Limiter{buckets: buckets, limits: limits}, nil
}

func (l *Limiter) CheckIPRateLimit(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	limit, ok := l.limits[class]
	if !ok {
		return &models.RateLimitResult{Allowed: true}, nil
	}
	return l.buckets.Allow(ctx, models.NewIPKey(ip, class), limit.RequestsPerWindow, limit.Window)
}

// CircuitObserver receives breaker transitions.
type CircuitObserver interface {
	SetCircuitOpen(name string, open bool)
}

// FallbackLimiter answers from primary while it is healthy and from fallback
// while the breaker is open. Primary is still consulted when open so that
// consecutive successes can close the breaker again.
type FallbackLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
	breaker  *circuit.Breaker
	observer CircuitObserver
	logger   *slog.Logger
}

// NewFallbackLimiter wraps primary with an in-memory fallback.
func NewFallbackLimiter(primary, fallback RateLimiter, breaker *circuit.Breaker, observer CircuitObserver, logger *slog.Logger) *FallbackLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackLimiter{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		observer: observer,
		logger:   logger,
	}
}

func (f *FallbackLimiter) CheckIPRateLimit(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	result, err := f.primary.CheckIPRateLimit(ctx, ip, class)
	if err != nil {
		useFallback, change := f.breaker.RecordFailure()
		if change.Opened {
			f.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback",
				"breaker", f.breaker.Name(), "error", err)
			f.observe(true)
		}
		if !useFallback {
			return nil, err
		}
		return f.degraded(ctx, ip, class)
	}

	usePrimary, change := f.breaker.RecordSuccess()
	if change.Closed {
		f.logger.InfoContext(ctx, "rate limit store recovered", "breaker", f.breaker.Name())
		f.observe(false)
	}
	if !usePrimary {
		return f.degraded(ctx, ip, class)
	}
	return result, nil
}

func (f *FallbackLimiter) degraded(ctx context.Context, ip string, class models.EndpointClass) (*models.RateLimitResult, error) {
	result, err := f.fallback.CheckIPRateLimit(ctx, ip, class)
	if err != nil {
		return nil, err
	}
	result.Degraded = true
	return result, nil
}

func (f *FallbackLimiter) observe(open bool) {
	if f.observer != nil {
		f.observer.SetCircuitOpen(f.breaker.Name(), open)
	}
}
