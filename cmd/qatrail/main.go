// Package main is the entry point for the qatrail server. It wires the
// template registry, workflow engine, and persistence together and starts
// the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/qatrail/qatrail/internal/config"
	"github.com/qatrail/qatrail/internal/observability"
	"github.com/qatrail/qatrail/internal/template"
	"github.com/qatrail/qatrail/internal/transport"
	"github.com/qatrail/qatrail/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "qatrail", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Load templates from configured directories, seeding the built-in
	// defaults unless disabled.
	loader := template.NewLoader()
	templates, err := loader.LoadAll(cfg.Templates.Directories)
	if err != nil {
		logger.Error("template loading failed", zap.Error(err))
		return 1
	}
	if cfg.Templates.SeedDefaults {
		templates = append(template.DefaultTemplates(), templates...)
	}
	if len(templates) == 0 {
		logger.Error("no workflow templates available")
		return 1
	}
	registry := template.NewRegistry(templates)
	metrics.SetTemplatesLoaded(float64(registry.Len()))
	logger.Info("templates loaded", zap.Int("count", registry.Len()))

	store, storeCloser, err := buildStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	engine := workflow.NewEngine(store, registry, logger, workflow.WithMetrics(metrics))

	// Verify persisted state after a restart. Timestamps are the source of
	// truth for elapsed time, so this only checks session invariants.
	recovered, err := engine.Recover(ctx)
	if err != nil {
		logger.Error("recovery failed", zap.Error(err))
		return 1
	}
	metrics.RecordInstancesRecovered(recovered)

	checks := observability.ReadinessChecks{
		TemplatesLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		checks.WorkflowStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Engine:   engine,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		Checks:   checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("templates", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the workflow store based on config.
func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemStore(), nil, nil
	case "postgres":
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, nil, err
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxConns)
		poolCfg.MinConns = int32(cfg.MinConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect: %w", err)
		}

		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ping: %w", err)
		}
		if err := workflow.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: schema: %w", err)
		}

		return workflow.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
