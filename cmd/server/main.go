// @title           Organization Directory API
// @version         0.1.0
// @description     Organization directory with paged, filtered search, organization administration and live measure storage
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Organizations
// @tag.description  Organization search and administration.
//
// @tag.name         Measures
// @tag.description  Live measures of components.

// Package main is the entry point for the organization directory server binary.
// It dispatches four subcommands (serve, migrate, version and token) via a
// switch on os.Args. The serve command runs migrations on startup so that a
// freshly deployed container never needs a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orgdirectory/orgdirectory/internal/api"
	"github.com/orgdirectory/orgdirectory/internal/auth"
	"github.com/orgdirectory/orgdirectory/internal/config"
	"github.com/orgdirectory/orgdirectory/internal/db"
	"github.com/orgdirectory/orgdirectory/internal/safego"
	"github.com/orgdirectory/orgdirectory/internal/telemetry"
)

// defaultTokenTTL is the lifetime of tokens minted by the token subcommand
const defaultTokenTTL = 24 * time.Hour

const usage = `usage: %[1]s <command>

commands:
  serve                        run the HTTP server (default)
  migrate <up|down>            apply or roll back schema migrations
  version                      print the server version
  token <user-id> [scope...]   print a signed JWT for the user
`

func main() {
	if err := run(os.Args); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 1 {
		command = args[1]
	}

	switch command {
	case "version":
		fmt.Printf("Organization Directory v%s\n", api.Version)
		return nil
	case "token":
		token, err := mintToken(args[2:], defaultTokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	case "serve", "migrate":
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, fmt.Sprintf(usage, args[0]))
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if command == "migrate" {
		if len(args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", args[0])
		}
		return runMigrations(cfg, args[2])
	}
	return serve(cfg)
}

// mintToken signs a JWT for args[0] carrying the scopes args[1:]. With no
// scopes the token grants read access to the directory and to measures.
func mintToken(args []string, ttl time.Duration) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", errors.New("usage: token <user-id> [scope...]")
	}

	scopes := args[1:]
	if len(scopes) == 0 {
		scopes = []string{string(auth.ScopeOrganizationsRead), string(auth.ScopeMeasuresRead)}
	}
	if err := auth.ValidateScopes(scopes); err != nil {
		return "", err
	}
	// A generated development secret would not match the server's
	if os.Getenv(auth.JWTSecretEnv) == "" {
		return "", fmt.Errorf("%s must be set to the server's signing secret", auth.JWTSecretEnv)
	}

	return auth.GenerateJWT(args[0], args[0], scopes, ttl)
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate JWT secret configuration (fails in production if not set)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "ssl_mode", cfg.Database.SSLMode)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	database, err := db.Connect(connectCtx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(ctx, database, 30*time.Second)

	// Only the log level is safe to change without a restart
	if os.Getenv("CONFIG_PATH") != "" {
		err := config.Watch(os.Getenv("CONFIG_PATH"), func(updated *config.Config) {
			telemetry.SetLogLevel(updated.Logging.Level)
		})
		if err != nil {
			slog.Warn("config file watch disabled", "error", err)
		}
	}

	// Prometheus metrics are served on a dedicated port so the scrape path
	// stays off the public ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsSrv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
			Handler:      metricsMux(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		safego.Go("metrics-server", func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
		defer metricsSrv.Close()
	}

	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr, "base_url", cfg.Server.BaseURL,
			"tls", cfg.Security.TLS.Enabled, "version", api.Version)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	})

	select {
	case err := <-serveErr:
		if err != nil {
			bgServices.Shutdown()
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop rate limiter goroutines and release the Redis client
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func runMigrations(cfg *config.Config, direction string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", version, dirty)
	return nil
}
