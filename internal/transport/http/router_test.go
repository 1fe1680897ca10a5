package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authModel "grantd/internal/auth/models"
	"grantd/internal/auth/service"
	activetoken "grantd/internal/auth/store/active-token"
	authcode "grantd/internal/auth/store/authorization-code"
	refreshtoken "grantd/internal/auth/store/refresh-token"
	"grantd/internal/auth/store/revocation"
	"grantd/internal/platform/metrics"
	ratelimit "grantd/internal/ratelimit/middleware"
	ratelimitModels "grantd/internal/ratelimit/models"
	"grantd/internal/ratelimit/store/bucket"
	tokencodec "grantd/internal/token_codec"
	"grantd/pkg/platform/middleware/metadata"
	"grantd/pkg/testutil"
)

const prefix = "/api/oauth"

type healthFunc func(context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, health HealthChecker) http.Handler {
	t.Helper()
	return newTestRouterWithLimits(t, health, nil, nil)
}

func newTestRouterWithLimits(t *testing.T, health HealthChecker, limits map[ratelimitModels.EndpointClass]ratelimitModels.Limit, trusted *metadata.TrustedProxies) http.Handler {
	t.Helper()
	codec, err := tokencodec.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	revocations := revocation.NewInMemoryTRL()
	registry := prometheus.NewRegistry()
	m := metrics.NewWith(registry)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := service.New(authcode.New(), activetoken.New(), refreshtoken.New(), revocations, codec,
		service.WithMetrics(m),
		service.WithLogger(logger),
	)
	require.NoError(t, err)

	var limiter *ratelimit.Middleware
	if limits != nil {
		l, err := ratelimit.NewLimiter(bucket.New(), limits)
		require.NoError(t, err)
		limiter = ratelimit.New(l, logger, ratelimit.WithMetrics(m))
	}

	return NewRouter(RouterConfig{
		RoutePrefix:    prefix,
		Auth:           NewAuthHandler(svc, logger),
		Decoder:        codec,
		Revocations:    revocations,
		RateLimit:      limiter,
		TrustedProxies: trusted,
		Health:         health,
		Metrics:        m,
		Gatherer:       registry,
		Logger:         logger,
	})
}

func issueCode(t *testing.T, router http.Handler) string {
	t.Helper()
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
	}
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, prefix+"/authorize?"+q.Encode()))
	require.Equal(t, http.StatusFound, rr.Code)
	_, params := testutil.RedirectQuery(t, rr)
	require.NotEmpty(t, params.Get("code"))
	return params.Get("code")
}

func exchange(t *testing.T, router http.Handler, code string) (int, *authModel.TokenResult) {
	t.Helper()
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {clientID},
		"redirect_uri": {redirectURI},
	}
	rr := testutil.DoRequest(router, testutil.NewFormRequest(t, http.MethodPost, prefix+"/token", form))
	if rr.Code != http.StatusOK {
		return rr.Code, nil
	}
	return rr.Code, testutil.UnmarshalResponse[authModel.TokenResult](t, rr)
}

func tokenInfo(t *testing.T, router http.Handler, accessToken string) int {
	t.Helper()
	req := testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, prefix+"/tokeninfo"), accessToken)
	return testutil.DoRequest(router, req).Code
}

func TestRouter_AuthorizeEchoesLongState(t *testing.T) {
	router := newTestRouter(t, nil)
	state := strings.Repeat("s", 1500)
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
	}
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, prefix+"/authorize?"+q.Encode()))
	require.Equal(t, http.StatusFound, rr.Code)
	_, params := testutil.RedirectQuery(t, rr)
	assert.NotEmpty(t, params.Get("code"))
	assert.Equal(t, state, params.Get("state"))
	assert.False(t, params.Has("error"))
}

func TestRouter_AuthorizeRejectsHostlessRedirect(t *testing.T) {
	router := newTestRouter(t, nil)
	for _, raw := range []string{"http://", "https://"} {
		q := url.Values{"response_type": {"code"}, "client_id": {clientID}, "redirect_uri": {raw}}
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, prefix+"/authorize?"+q.Encode()))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertEmptyBody(t, rr)
	}
}

func TestRouter_GrantLifecycle(t *testing.T) {
	router := newTestRouter(t, nil)
	code := issueCode(t, router)

	status, tokens := exchange(t, router, code)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bearer", tokens.TokenType)
	assert.Equal(t, 3600, tokens.ExpiresIn)

	rr := testutil.DoRequest(router, testutil.WithBearer(testutil.NewRequest(t, http.MethodGet, prefix+"/tokeninfo"), tokens.AccessToken))
	testutil.AssertStatusOK(t, rr)
	info := testutil.UnmarshalResponse[authModel.TokenInfo](t, rr)
	assert.True(t, info.Read)
	assert.NotEmpty(t, info.TokenID)
	assert.Equal(t, int64(3600), info.ExpiresAt-info.IssuedAt)

	status, _ = exchange(t, router, code)
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, http.StatusUnauthorized, tokenInfo(t, router, tokens.AccessToken),
		"replaying the code revokes the token it produced")

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}}
	rr = testutil.DoRequest(router, testutil.NewFormRequest(t, http.MethodPost, prefix+"/token", form))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestRouter_RefreshRotation(t *testing.T) {
	router := newTestRouter(t, nil)
	_, tokens := exchange(t, router, issueCode(t, router))
	require.NotNil(t, tokens)

	form := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {tokens.RefreshToken}}
	rr := testutil.DoRequest(router, testutil.NewFormRequest(t, http.MethodPost, prefix+"/token", form))
	testutil.AssertStatusOK(t, rr)
	refreshed := testutil.UnmarshalResponse[authModel.TokenResult](t, rr)
	assert.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, http.StatusOK, tokenInfo(t, router, refreshed.AccessToken))

	rr = testutil.DoRequest(router, testutil.NewFormRequest(t, http.MethodPost, prefix+"/token", form))
	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestRouter_Operations(t *testing.T) {
	t.Run("health ok", func(t *testing.T) {
		router := newTestRouter(t, healthFunc(func(context.Context) error { return nil }))
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("health reports backend failure", func(t *testing.T) {
		router := newTestRouter(t, healthFunc(func(context.Context) error { return errors.New("down") }))
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	})

	t.Run("metrics exposes grant counters", func(t *testing.T) {
		router := newTestRouter(t, nil)
		issueCode(t, router)

		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
		testutil.AssertStatusOK(t, rr)
		assert.Contains(t, rr.Body.String(), "grantd_grants_issued_total 1")
	})

	t.Run("responses carry a request ID", func(t *testing.T) {
		router := newTestRouter(t, nil)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/health"))
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("routes are mounted under the prefix only", func(t *testing.T) {
		router := newTestRouter(t, nil)
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/authorize?redirect_uri=https://a.example"))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}

func TestRouter_RateLimitsTokenEndpoint(t *testing.T) {
	router := newTestRouterWithLimits(t, nil, map[ratelimitModels.EndpointClass]ratelimitModels.Limit{
		ratelimitModels.ClassToken: {RequestsPerWindow: 1, Window: time.Minute},
	}, nil)
	code := issueCode(t, router)
	issueCode(t, router)

	status, _ := exchange(t, router, code)
	require.Equal(t, http.StatusOK, status)

	status, _ = exchange(t, router, code)
	assert.Equal(t, http.StatusTooManyRequests, status, "the limiter answers before the replay check")

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	assert.Contains(t, rr.Body.String(), `grantd_ratelimit_rejected_total{class="token"} 1`)
}

func tokenStatusFrom(t *testing.T, router http.Handler, forwardedFor string) int {
	t.Helper()
	form := url.Values{"grant_type": {"authorization_code"}, "code": {"unknown"}, "client_id": {clientID}, "redirect_uri": {redirectURI}}
	req := testutil.NewFormRequest(t, http.MethodPost, prefix+"/token", form)
	req.RemoteAddr = "198.51.100.20:40000"
	req.Header.Set("X-Forwarded-For", forwardedFor)
	return testutil.DoRequest(router, req).Code
}

func TestRouter_RateLimitKeysOnPeerAddress(t *testing.T) {
	limits := map[ratelimitModels.EndpointClass]ratelimitModels.Limit{
		ratelimitModels.ClassToken: {RequestsPerWindow: 2, Window: time.Minute},
	}

	t.Run("forwarded header from untrusted peer is ignored", func(t *testing.T) {
		router := newTestRouterWithLimits(t, nil, limits, nil)
		limited := 0
		for i := range 10 {
			if tokenStatusFrom(t, router, fmt.Sprintf("203.0.113.%d", i+1)) == http.StatusTooManyRequests {
				limited++
			}
		}
		assert.Equal(t, 8, limited)
	})

	t.Run("trusted proxy forwards distinct clients", func(t *testing.T) {
		trusted, err := metadata.ParseTrustedProxies([]string{"198.51.100.0/24"})
		require.NoError(t, err)
		router := newTestRouterWithLimits(t, nil, limits, trusted)
		for i := range 10 {
			assert.Equal(t, http.StatusBadRequest, tokenStatusFrom(t, router, fmt.Sprintf("203.0.113.%d", i+1)))
		}
		assert.Equal(t, http.StatusBadRequest, tokenStatusFrom(t, router, "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, tokenStatusFrom(t, router, "203.0.113.1"))
	})
}
