package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/apps/tasks"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/config"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/database"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/logging"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/routes"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/server"
	"github.com/ahmetcoskunkizilkaya/todo-api/internal/services"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// plugins lists every app module mounted under /api/:owner.
func plugins() []apps.Plugin {
	return []apps.Plugin{
		tasks.New(),
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg := config.Load()
	logging.Setup(cfg.IsProduction())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(database.DB); err != nil {
			slog.Error("database close error", "error", err)
		}
	}()

	registered := plugins()
	if cfg.DBAutoMigrate {
		if err := migrateAll(database.DB, registered); err != nil {
			return err
		}
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	logger := slog.New(logging.NewMultiHandler(
		logging.NewStdoutHandler(slog.LevelInfo),
		pgLogHandler,
	))
	slog.SetDefault(logger)

	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetentionDays, cleanupDone)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// Token verification
	var keys *services.JWKSClient
	verifierOpts := services.VerifierOptions{
		HMACSecret:     []byte(cfg.JWTSharedSecret),
		Algorithms:     cfg.JWTAlgorithms,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Leeway:         cfg.JWTLeeway,
		VerifyIssuedAt: cfg.JWTVerifyIAT,
	}
	if cfg.JWTSharedSecret == "" {
		verifierOpts.HMACSecret = nil
	}
	if cfg.JWKSURL != "" {
		keys = services.NewJWKSClient(services.JWKSOptions{
			URL:                cfg.JWKSURL,
			TTL:                cfg.JWKSCacheTTL,
			StaleGrace:         cfg.JWKSStaleGrace,
			FetchTimeout:       cfg.JWKSFetchTimeout,
			MinRefreshInterval: cfg.JWKSMinRefreshInterval,
			Metrics:            collector,
		})
		verifierOpts.Keys = keys

		warmCtx, cancel := context.WithTimeout(parent, cfg.JWKSFetchTimeout)
		if err := keys.Warm(warmCtx); err != nil {
			// Not fatal: the first authenticated request retries the fetch.
			slog.Warn("initial JWKS fetch failed", "url", cfg.JWKSURL, "error", err)
		}
		cancel()
	}
	verifier := services.NewTokenVerifier(verifierOpts)

	var keyStatus handlers.KeyStatuser
	if keys != nil {
		keyStatus = keys
	}

	app := server.NewApp(cfg, logger, routes.Options{
		Deps: apps.Deps{
			DB:      database.DB,
			Config:  cfg,
			Metrics: collector,
		},
		Verifier:      verifier,
		HealthHandler: handlers.NewHealthHandler(database.DB, keyStatus),
		Gatherer:      registry,
		Plugins:       registered,
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.AppEnv)
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	var runErr error
	select {
	case err := <-listenErr:
		if err != nil {
			slog.Error("server failed to start", "error", err)
			runErr = fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	// Later records must not target the stopped handler.
	slog.SetDefault(slog.New(logging.NewStdoutHandler(slog.LevelInfo)))
	slog.Info("server stopped")
	return runErr
}
