package router_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pajamaparty/telemetry/internal/config"
	"pajamaparty/telemetry/internal/database"
	"pajamaparty/telemetry/internal/handler"
	"pajamaparty/telemetry/internal/ratelimit"
	"pajamaparty/telemetry/internal/router"
	"pajamaparty/telemetry/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "collector.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewEventStore(db.DB, zap.NewNop())
	events := handler.NewEventsHandler(store, cfg.Collector.MaxBodyBytes, zap.NewNop())
	return router.New(events, ratelimit.New(), cfg, zap.NewNop())
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	r := newTestRouter(t, defaultConfig(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEventsEndpoint(t *testing.T) {
	r := newTestRouter(t, defaultConfig(t))

	body := fmt.Sprintf(`{"events":[{"name":"dream_submitted","timestamp":%d}]}`, time.Now().UnixMilli())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestEventsEndpointRateLimited(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.RateLimit.Analytics = config.RateWindow{WindowMs: 60_000, Max: 2}
	r := newTestRouter(t, cfg)

	do := func() *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"events":[{"name":"station_search","timestamp":%d}]}`, time.Now().UnixMilli())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
		req.Header.Set("X-Forwarded-For", "10.0.0.7")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	assert.Equal(t, http.StatusOK, do().Code)

	third := do()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))
}

func TestStatsEndpoint(t *testing.T) {
	r := newTestRouter(t, defaultConfig(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestRouter(t, defaultConfig(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLimitsClasses(t *testing.T) {
	limits := router.Limits(defaultConfig(t))

	require.Len(t, limits, 4)
	assert.Equal(t, 300, limits["analytics"].Max)
	assert.Equal(t, time.Minute, limits["analytics"].Window)
	assert.Equal(t, 10, limits["dreams"].Max)
	assert.Equal(t, 10, limits["parties"].Max)
	assert.Equal(t, 100, limits["search"].Max)
}
