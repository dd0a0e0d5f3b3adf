// Package telemetry provides application-level observability for the organization directory.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<ORGDIR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Organization search outcomes and result sizes
//   - Live measure writes, by where the payload was stored
//   - Rate limiter rejections, by backend
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orgdirectory/orgdirectory/internal/safego"
)

// HTTP metrics, labelled by method, route template and status code.
//
// The path label holds the Gin route template, not the raw URL, to keep
// label cardinality bounded.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Search outcome label values for OrganizationSearchesTotal
const (
	SearchOutcomeOK           = "ok"
	SearchOutcomeInvalid      = "invalid_argument"
	SearchOutcomeUnauthorized = "not_authorized"
	SearchOutcomeRateLimited  = "rate_limited"
	SearchOutcomeUnavailable  = "unavailable"
)

// Organization search metrics.
//
// OrganizationSearchesTotal counts every search by outcome, as classified from
// the response status by the HTTP metrics middleware. A rising "unavailable"
// rate means the database is failing searches.
//
// OrganizationSearchResults observes how many organizations each successful
// search returned on its page.
//
// Example PromQL queries:
//   - Failure ratio:   sum(rate(organization_searches_total{outcome!="ok"}[5m])) / sum(rate(organization_searches_total[5m]))
//   - Median page:     histogram_quantile(0.5, rate(organization_search_results_bucket[1h]))
var (
	OrganizationSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "organization_searches_total",
			Help: "Total number of organization searches, by outcome.",
		},
		[]string{"outcome"},
	)

	OrganizationSearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "organization_search_results",
			Help:    "Number of organizations returned per search page.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// LiveMeasureWritesTotal counts live measure upserts by where the payload
// landed: "text", "blob" or "none".
var LiveMeasureWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "live_measure_writes_total",
		Help: "Total number of live measure upserts, by payload storage.",
	},
	[]string{"storage"},
)

// RateLimitRejectionsTotal counts requests rejected by the rate limiter, by
// backend ("memory" or "redis").
var RateLimitRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter, by backend.",
	},
	[]string{"backend"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples sql.DB pool statistics every interval until ctx
// is cancelled or the database becomes unreachable.
//
//	telemetry.StartDBStatsCollector(ctx, database, 30*time.Second)
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	safego.Go("db-stats-collector", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := db.PingContext(ctx); err != nil {
				if ctx.Err() == nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				}
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}
