package router

import (
	"net/http"
	"time"

	"pajamaparty/telemetry/internal/config"
	"pajamaparty/telemetry/internal/handler"
	"pajamaparty/telemetry/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// New builds the collector's HTTP handler. The ingestion endpoint is
// rate-limited under the analytics class and the stats endpoint under the
// search class; the dreams and parties classes are exported for the rest
// of the platform via Limits.
func New(events *handler.EventsHandler, limiter *ratelimit.Limiter, cfg *config.Config, logger *zap.Logger) http.Handler {
	limits := Limits(cfg)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.Handle("/api/v1/events",
		limiter.Wrap(http.HandlerFunc(events.Ingest), limits["analytics"]),
	).Methods(http.MethodPost)

	r.Handle("/api/v1/stats",
		limiter.Wrap(http.HandlerFunc(events.Stats), limits["search"]),
	).Methods(http.MethodGet)

	// Logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger.Info("HTTP request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote_addr", req.RemoteAddr),
		)
		r.ServeHTTP(w, req)
	})
}

// Limits maps the configured endpoint classes to rate limit configs.
func Limits(cfg *config.Config) map[string]ratelimit.Config {
	window := func(name string, rw config.RateWindow) ratelimit.Config {
		return ratelimit.Config{
			Name:   name,
			Window: time.Duration(rw.WindowMs) * time.Millisecond,
			Max:    rw.Max,
		}
	}
	return map[string]ratelimit.Config{
		"analytics": window("analytics", cfg.RateLimit.Analytics),
		"dreams":    window("dreams", cfg.RateLimit.Dreams),
		"parties":   window("parties", cfg.RateLimit.Parties),
		"search":    window("search", cfg.RateLimit.Search),
	}
}
