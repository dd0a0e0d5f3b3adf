// Package middleware provides Gin HTTP middleware components for the organization directory.
// All middleware in this package is registered in internal/api/router.go before any
// route handlers so that every request is covered regardless of handler.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orgdirectory/orgdirectory/internal/telemetry"
)

const (
	// noRouteLabel is the path label for requests that matched no route (404/405)
	noRouteLabel = "<no-route>"
	// searchRoute is the route template whose outcomes feed organization_searches_total
	searchRoute = "/api/organizations/search"
)

// MetricsMiddleware records, for every request:
//   - http_requests_total{method, path, status}
//   - http_request_duration_seconds{method, path}
//
// and, for GET /api/organizations/search, organization_searches_total{outcome}.
//
// The path label is the matched route template from c.FullPath(). The directory's
// routes carry no path parameters, so the label set is bounded by the route table
// plus noRouteLabel.
//
// Register it after RequestIDMiddleware and before the rate limiter and auth
// middleware so that rejected requests are counted with their final status.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = noRouteLabel
		}
		status := c.Writer.Status()

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())

		if route == searchRoute && c.Request.Method == http.MethodGet {
			telemetry.OrganizationSearchesTotal.WithLabelValues(searchOutcome(status)).Inc()
		}
	}
}

// searchOutcome classifies a finished search by its response status
func searchOutcome(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return telemetry.SearchOutcomeOK
	case status == http.StatusUnauthorized:
		return telemetry.SearchOutcomeUnauthorized
	case status == http.StatusTooManyRequests:
		return telemetry.SearchOutcomeRateLimited
	case status < http.StatusInternalServerError:
		return telemetry.SearchOutcomeInvalid
	default:
		return telemetry.SearchOutcomeUnavailable
	}
}
