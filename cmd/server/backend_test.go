package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantd/internal/auth/models"
	"grantd/internal/auth/service"
	"grantd/internal/platform/config"
	ratelimitModels "grantd/internal/ratelimit/models"
	auditmemory "grantd/pkg/platform/audit/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewBackend_Memory(t *testing.T) {
	b, err := newBackend(context.Background(), config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)
	defer b.Close()

	assert.NoError(t, b.Health(context.Background()))
	assert.IsType(t, service.InProcessTx{}, b.tx)
	assert.NotNil(t, b.revocationSweeper(), "memory revocation list needs sweeping")

	store, closeFn, err := newAuditStore(context.Background(), config.Config{}, b, nil, discardLogger())
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &auditmemory.InMemoryStore{}, store)
}

func TestNewBackend_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Config{
		StoreBackend: config.BackendRedis,
		Redis:        config.RedisConfig{URL: "redis://" + mr.Addr()},
	}

	b, err := newBackend(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Health(ctx))
	assert.Nil(t, b.revocationSweeper(), "redis expires revocations itself")

	now := time.Now()
	grant := models.NewPendingGrant("code-1", "client", "https://a.example/cb", now)
	require.NoError(t, b.grants.Create(ctx, grant))
	got, err := b.grants.Pop(ctx, "code-1", now)
	require.NoError(t, err)
	assert.Equal(t, "client", got.ClientID)

	limiter, err := newRateLimiter(rateLimitConfig(1), b, nil, discardLogger())
	require.NoError(t, err)
	h := limiter.RateLimit(ratelimitModels.ClassToken)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/token", nil))
	assert.NotEmpty(t, mr.Keys(), "redis backend shares rate limit buckets")

	mr.Close()
	assert.Error(t, b.Health(ctx))
}

func TestNewBackend_Errors(t *testing.T) {
	_, err := newBackend(context.Background(), config.Config{StoreBackend: "cassandra"})
	assert.ErrorContains(t, err, "unknown store backend")

	_, err = newBackend(context.Background(), config.Config{StoreBackend: config.BackendRedis})
	assert.ErrorContains(t, err, "REDIS_URL")
}

func rateLimitConfig(token int) config.Config {
	return config.Config{RateLimit: config.RateLimitConfig{Authorize: 10, Token: token, Window: time.Minute}}
}

func TestNewRateLimiter(t *testing.T) {
	b, err := newBackend(context.Background(), config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)

	t.Run("memory buckets", func(t *testing.T) {
		mw, err := newRateLimiter(rateLimitConfig(1), b, nil, discardLogger())
		require.NoError(t, err)

		h := mw.RateLimit(ratelimitModels.ClassToken)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		req := httptest.NewRequest(http.MethodPost, "/token", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := rateLimitConfig(0)
		cfg.RateLimit.Disabled = true
		mw, err := newRateLimiter(cfg, b, nil, discardLogger())
		require.NoError(t, err)
		assert.NotNil(t, mw)
	})

	t.Run("invalid quota", func(t *testing.T) {
		_, err := newRateLimiter(rateLimitConfig(0), b, nil, discardLogger())
		assert.Error(t, err)
	})
}
