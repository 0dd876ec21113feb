// Package api exposes the reconciliation engine over HTTP: resolution
// submissions, resolved-metric lookups, the review queue, source trust, and
// health metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/engine"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/monitoring"
	"github.com/sells-group/reconcile-cli/internal/review"
)

// Engine is the subset of the engine facade the API serves. Narrowed to an
// interface so handlers can be tested against a stub.
type Engine interface {
	Resolve(ctx context.Context, key model.MetricKey, observations []model.Observation) (*engine.Result, error)
	Latest(ctx context.Context, key model.MetricKey) (*model.ResolvedMetric, error)
	ListResolved(ctx context.Context, limit int) ([]model.ResolvedMetric, error)
	PendingReviews(ctx context.Context, priority model.ReviewPriority, limit int) ([]model.ReviewTask, error)
	SubmitReviewDecision(ctx context.Context, taskID string, d review.Decision) (*engine.DecisionResult, error)
	SourceTrust(sourceID string) (model.Source, error)
	Sources() []model.Source
}

// MetricsProvider supplies health snapshots for the stats endpoint.
type MetricsProvider interface {
	Collect(ctx context.Context, sampleLimit int) (*monitoring.MetricsSnapshot, error)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	engine  Engine
	metrics MetricsProvider
	cfg     config.ServerConfig
}

// NewServer creates a Server over the engine facade.
func NewServer(eng Engine, metrics MetricsProvider, cfg config.ServerConfig) *Server {
	return &Server{engine: eng, metrics: metrics, cfg: cfg}
}

// Router builds the chi router with CORS and rate limiting applied to the
// API routes. The health endpoint is never rate limited.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit())

		r.Post("/resolve", s.handleResolve)
		r.Get("/resolved", s.handleListResolved)
		r.Get("/resolved/{entityID}/{metricName}/{period}", s.handleLatest)

		r.Get("/reviews", s.handleListReviews)
		r.Post("/reviews/{taskID}/decision", s.handleReviewDecision)

		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{sourceID}", s.handleGetSource)

		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

// rateLimit applies a global token bucket across API routes.
func (s *Server) rateLimit() func(http.Handler) http.Handler {
	limit := rate.Limit(s.cfg.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 50
	}
	limiter := rate.NewLimiter(limit, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
