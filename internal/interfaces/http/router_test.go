package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/application/admission"
	"github.com/turtacn/admit/internal/application/session"
	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/infrastructure/idgen"
	"github.com/turtacn/admit/internal/infrastructure/monitoring"
	"github.com/turtacn/admit/internal/infrastructure/queue"
	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
	admithttp "github.com/turtacn/admit/internal/interfaces/http"
	"github.com/turtacn/admit/internal/interfaces/http/handlers"
	"github.com/turtacn/admit/internal/testutil"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/logger"
)

func newTestRouter(t *testing.T) (*admithttp.Router, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	policies, err := admission.PolicyTableFromConfig(&config.RateLimitConfig{
		Classes: []config.ClassConfig{
			{Name: "default", Limit: 2, WindowMs: 1000},
			{Name: "session", Limit: 50, WindowMs: 1000},
		},
		Routes: []config.RouteConfig{{Prefix: "/api/v1/sessions", Class: "session"}},
	})
	require.NoError(t, err)

	registry := ratelimit.NewRegistry(ratelimit.WithClock(clk))
	gate, err := admission.New(policies, registry,
		admission.WithClock(clk),
		admission.WithRecorder(metrics),
	)
	require.NoError(t, err)

	gen, err := idgen.NewGenerator(1, idgen.WithClock(clk))
	require.NoError(t, err)
	sessions := session.New(queue.NewMemoryStore(time.Minute), gen,
		session.WithClock(clk),
		session.WithReleaseOnEnd(gate, "/api/v1/sessions"),
	)

	router := admithttp.NewRouter(config.ServerConfig{ClientKeyHeader: "X-Client-ID"}, logger.NewNopLogger(), admithttp.Dependencies{
		Gate:     gate,
		Sessions: sessions,
		IDs:      gen,
		Health:   handlers.NewHealthHandler(nil, logger.NewNopLogger()),
		Metrics:  metrics,
		Gatherer: reg,
		Clock:    clk,
	})
	return router, clk
}

func do(r *admithttp.Router, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if client != "" {
		req.Header.Set("X-Client-ID", client)
	}
	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestRouter_RateLimitsPerClient(t *testing.T) {
	r, clk := newTestRouter(t)

	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/api/v1/ids", "alice")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "2", w.Header().Get(constants.HeaderRateLimitLimit))
	}

	w := do(r, http.MethodPost, "/api/v1/ids", "alice")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get(constants.HeaderRetryAfter))

	w = do(r, http.MethodPost, "/api/v1/ids", "bob")
	assert.Equal(t, http.StatusCreated, w.Code, "other clients keep their own budget")

	clk.Advance(time.Second)
	w = do(r, http.MethodPost, "/api/v1/ids", "alice")
	assert.Equal(t, http.StatusCreated, w.Code, "a new window admits again")
}

func TestRouter_SessionClassHasItsOwnBudget(t *testing.T) {
	r, _ := newTestRouter(t)

	for i := 0; i < 10; i++ {
		w := do(r, http.MethodGet, "/api/v1/sessions/count", "alice")
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, "50", do(r, http.MethodGet, "/api/v1/sessions/count", "alice").Header().Get(constants.HeaderRateLimitLimit))
}

func TestRouter_Ambient(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRequestID))
	assert.Empty(t, w.Header().Get(constants.HeaderRateLimitLimit), "probes are not rate limited")

	do(r, http.MethodPost, "/api/v1/ids", "alice")
	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admit_decisions_total")
	assert.Contains(t, w.Body.String(), "admit_http_requests_total")

	w = do(r, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
