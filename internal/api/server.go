// Package api exposes the dashboard HTTP surface: read endpoints for
// metrics and breakdowns, and control endpoints for extraction runs.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/enersight/ga4-monitor/internal/cache"
	"github.com/enersight/ga4-monitor/internal/domain"
	"github.com/enersight/ga4-monitor/internal/ingest"
	"github.com/enersight/ga4-monitor/internal/pkg/logger"
	"github.com/enersight/ga4-monitor/internal/query"
	"github.com/enersight/ga4-monitor/internal/store"
)

// Queries is the read surface the handlers need.
type Queries interface {
	Daily(ctx context.Context, date string) (domain.DailyMetrics, error)
	Report(ctx context.Context, date string) (query.DailyReport, error)
	MetricsRange(ctx context.Context, start, end string) (query.RangeResult, error)
	BreakdownDay(ctx context.Context, kind domain.BreakdownKind, date string) (interface{}, error)
	BreakdownRange(ctx context.Context, kind domain.BreakdownKind, start, end string) (interface{}, error)
	Compare(ctx context.Context, date string, daysBack int) (query.Comparison, error)
	Stats(ctx context.Context) (store.Statistics, error)
}

// Ingestor is the extraction control surface.
type Ingestor interface {
	RunDate(ctx context.Context, date string, force bool) ingest.Result
	Backfill(ctx context.Context, start, end string, opts ingest.RangeOptions) (ingest.Summary, error)
	RunDelayed(ctx context.Context) (ingest.Result, error)
	Alignment(ctx context.Context, start, end string) (ingest.AlignmentReport, error)
	SyncMissing(ctx context.Context, start, end string) (ingest.Summary, error)
}

// CacheInfo reports recency-cache contents.
type CacheInfo interface {
	Stats(ctx context.Context) cache.Info
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server wires the HTTP routes to the pipeline.
type Server struct {
	queries     Queries
	ingestor    Ingestor
	cacheInfo   CacheInfo
	checks      map[string]HealthCheck
	maxRange    int
	maxBackfill int
	log         *logger.Logger
	router      chi.Router
}

// Options tunes server limits.
type Options struct {
	// MaxRangeDays caps a single metrics-range query. Default 90.
	MaxRangeDays int
	// MaxBackfillDays caps a single backfill request. Default 90.
	MaxBackfillDays int
	// HealthChecks are probed by GET /health, keyed by component name.
	HealthChecks map[string]HealthCheck
}

// NewServer assembles the router.
func NewServer(q Queries, ing Ingestor, ci CacheInfo, opts Options) *Server {
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = 90
	}
	if opts.MaxBackfillDays <= 0 {
		opts.MaxBackfillDays = 90
	}
	s := &Server{
		queries:     q,
		ingestor:    ing,
		cacheInfo:   ci,
		checks:      opts.HealthChecks,
		maxRange:    opts.MaxRangeDays,
		maxBackfill: opts.MaxBackfillDays,
		log:         logger.New("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/metrics/range", s.handleMetricsRange)
		r.Get("/metrics/{date}", s.handleDaily)
		r.Get("/metrics/{date}/comparison", s.handleComparison)
		r.Get("/report/{date}", s.handleReport)
		r.Get("/breakdown/{kind}/{date}", s.handleBreakdownDay)
		r.Get("/sessions/range", s.handleSessionsRange)
		r.Get("/stats", s.handleStats)
		r.Get("/cache/info", s.handleCacheInfo)
		r.Get("/alignment", s.handleAlignment)

		r.Post("/extract", s.handleExtract)
		r.Post("/extract/delayed", s.handleExtractDelayed)
		r.Post("/backfill", s.handleBackfill)
		r.Post("/sync", s.handleSync)
	})

	return r
}
