package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/metrics"
	"github.com/alecgard/usagedash/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Pipeline       Aggregator
	Reports        Reporter
	Clock          *calendar.Clock
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	DB             Pinger
	UI             http.Handler
	AllowedOrigins []string
	// TrustProxy rewrites RemoteAddr from forwarded headers before rate
	// limiting and logging.
	TrustProxy bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	clock := deps.Clock
	if clock == nil {
		clock = calendar.NewClock(time.UTC)
	}
	tokens := newTokensHandler(deps.Pipeline, deps.Reports, clock)

	r.Get("/health", healthHandler(deps.DB))

	r.Get("/daily-tokens", tokens.GetDaily)
	r.Get("/monthly-tokens", tokens.GetMonthly)
	r.Get("/tokens", tokens.GetTokens)
	r.Get("/token-type-data", tokens.GetTokenTypeData)
	r.Post("/token-type-data", tokens.GetTokenTypeData)

	// Routes that query the usage API are throttled per client.
	r.Group(func(tr chi.Router) {
		var onReject []func(*http.Request)
		if deps.Metrics != nil {
			m := deps.Metrics
			onReject = append(onReject, func(r *http.Request) { m.IncRateLimitRejection(r.URL.Path) })
		}
		tr.Use(ratelimit.Middleware(deps.Limiter, onReject...))

		tr.Get("/today-tokens", tokens.GetToday)
		tr.Post("/today-tokens", tokens.GetToday)
		tr.Get("/update-tokens", tokens.UpdateTokens)
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/api/stats", deps.Metrics.Handler())
	}

	if deps.UI != nil {
		r.Get("/", deps.UI.ServeHTTP)
	}

	return r
}

// healthHandler reports process and database health. A nil pinger reports
// the database as connected.
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				slog.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status":   "degraded",
					"database": "unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "connected",
		})
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
