// Package api wires together all HTTP routes for the organization directory.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated and not rate limited so
//     that probes keep working under load.
//   - /api/organizations/search is public. Callers may authenticate, which is
//     required for member=true and reveals the guarded flag to administrators.
//   - Organization administration and the measures endpoints require a bearer
//     JWT carrying the matching scope. Writes share a stricter rate limit and
//     are recorded in the audit trail when auditing is enabled.
package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/orgdirectory/orgdirectory/internal/api/measures"
	"github.com/orgdirectory/orgdirectory/internal/api/organizations"
	"github.com/orgdirectory/orgdirectory/internal/audit"
	"github.com/orgdirectory/orgdirectory/internal/auth"
	"github.com/orgdirectory/orgdirectory/internal/config"
	"github.com/orgdirectory/orgdirectory/internal/middleware"
)

// Version is reported by GET /version and the version subcommand
const Version = "0.1.0"

// BackgroundServices holds references to background goroutines and clients that
// must be released during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	rateLimiters []middleware.Limiter
	redis        *redis.Client
	auditShipper audit.Shipper
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("closing redis client", "error", err)
		}
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("closing audit shipper", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	sqlxDB := sqlx.NewDb(db, "postgres")
	orgHandlers := organizations.NewHandlers(cfg, sqlxDB)
	measureHandlers := measures.NewHandlers(sqlxDB)

	shipper, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to configure audit: %w", err)
	}
	bg.auditShipper = shipper
	auditWrites := middleware.AuditMiddleware(shipper, time.Now)

	var generalLimit, writeLimit gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		if url := cfg.Security.RateLimiting.RedisURL; url != "" {
			opts, err := redis.ParseURL(url)
			if err != nil {
				bg.Shutdown()
				return nil, nil, fmt.Errorf("invalid rate limiting redis_url: %w", err)
			}
			bg.redis = redis.NewClient(opts)
		}

		general := newLimiter(bg.redis, "general", generalRateLimitConfig(cfg.Security.RateLimiting))
		write := newLimiter(bg.redis, "write", middleware.AdminRateLimitConfig())
		bg.rateLimiters = []middleware.Limiter{general, write}
		generalLimit = middleware.RateLimitMiddleware(general)
		writeLimit = middleware.RateLimitMiddleware(write)

		slog.Info("rate limiting enabled", "backend", general.Backend(),
			"requests_per_minute", general.Limit())
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	headers := middleware.APISecurityHeadersConfig()
	headers.HSTSMaxAge = cfg.Security.HSTSMaxAge
	router.Use(middleware.SecurityHeadersMiddleware(headers))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, bg.redis))
	router.GET("/version", versionHandler())

	// Optional auth runs before the limiter so callers are limited per user
	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.OptionalAuthMiddleware())
	if generalLimit != nil {
		apiGroup.Use(generalLimit)
	}

	orgGroup := apiGroup.Group("/organizations")
	{
		orgGroup.GET("/search", orgHandlers.SearchHandler())

		orgAdmin := orgGroup.Group("")
		orgAdmin.Use(middleware.RequireScope(auth.ScopeOrganizationsWrite), auditWrites)
		if writeLimit != nil {
			orgAdmin.Use(writeLimit)
		}
		orgAdmin.POST("/create", orgHandlers.CreateHandler())
		orgAdmin.POST("/update", orgHandlers.UpdateHandler())
		orgAdmin.POST("/add_member", orgHandlers.AddMemberHandler())
		orgAdmin.POST("/remove_member", orgHandlers.RemoveMemberHandler())
	}

	measureGroup := apiGroup.Group("/measures")
	{
		measureGroup.GET("/component",
			middleware.RequireScope(auth.ScopeMeasuresRead),
			measureHandlers.ComponentHandler())

		upsert := []gin.HandlerFunc{middleware.RequireScope(auth.ScopeMeasuresWrite), auditWrites}
		if writeLimit != nil {
			upsert = append(upsert, writeLimit)
		}
		measureGroup.POST("/upsert", append(upsert, measureHandlers.UpsertHandler())...)
	}

	return router, bg, nil
}

// newLimiter returns a Redis-backed limiter when rdb is set, otherwise an
// in-process one
func newLimiter(rdb *redis.Client, name string, rc middleware.RateLimitConfig) middleware.Limiter {
	if rdb != nil {
		return middleware.NewRedisRateLimiter(rdb, "orgdir:ratelimit:"+name+":", rc)
	}
	return middleware.NewRateLimiter(rc)
}

// generalRateLimitConfig applies the configured limits over the defaults
func generalRateLimitConfig(rl config.RateLimitingConfig) middleware.RateLimitConfig {
	rc := middleware.DefaultRateLimitConfig()
	if rl.RequestsPerMinute > 0 {
		rc.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.Burst > 0 {
		rc.BurstSize = rl.Burst
	}
	return rc
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, the rate limiting Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. A Redis
// outage is reported but does not fail readiness, since the rate limiter
// lets requests through while Redis is down.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "degraded"
			} else {
				checks["redis"] = "healthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the server version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request through the
// default slog logger, whose format is set by telemetry.SetupLogger
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_id", middleware.CallerID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		wildcard := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if origin != "" && allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if wildcard || origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
