package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/api"
	"github.com/ricirt/offline-sync/internal/config"
	"github.com/ricirt/offline-sync/internal/connectivity"
	"github.com/ricirt/offline-sync/internal/db"
	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/journal"
	"github.com/ricirt/offline-sync/internal/metrics"
	"github.com/ricirt/offline-sync/internal/provider"
	"github.com/ricirt/offline-sync/internal/repository"
	"github.com/ricirt/offline-sync/internal/service"
	"github.com/ricirt/offline-sync/internal/strategy"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: queue, connectivity monitor, dispatcher and loopback API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func serve() error {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---- storage ----
	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	svc, err := service.New(ctx, cfg, service.Deps{
		Store:     store,
		Replayer:  newRegistry(cfg, store, logger),
		Probe:     newProbe(cfg),
		Escalator: newEscalator(cfg),
		Metrics:   m,
	}, logger)
	if err != nil {
		return fmt.Errorf("init sync service: %w", err)
	}

	// Context for all background goroutines; cancelled on shutdown signal.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if err := svc.Start(runCtx); err != nil {
		return fmt.Errorf("start sync service: %w", err)
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(svc, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the dispatcher; in-flight replays finish and stay durable.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("sync service shutdown error", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store: queued operations will not survive a restart")
		return repository.NewMemoryStore(), nil
	}

	conn, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	version, _, err := db.SchemaVersion(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	logger.Info("database migrations applied",
		zap.String("path", cfg.DBPath),
		zap.Uint("schema_version", version),
	)
	return repository.NewSQLiteStore(conn), nil
}

// newRegistry binds one replay strategy per kind to its configured backend.
// A kind without a backend URL keeps failing as unreachable until one is
// configured, so its operations stay queued within their retry budget.
func newRegistry(cfg *config.Config, keys repository.IdempotencyRepository, logger *zap.Logger) *strategy.Registry {
	backend := func(k domain.Kind) provider.Backend {
		url := cfg.Backends[k]
		if url == "" {
			logger.Warn("no backend configured", zap.String("kind", string(k)))
			return provider.BackendFunc(func(context.Context, provider.Request) (*provider.Response, error) {
				return nil, fmt.Errorf("%w: no backend configured for %s", domain.ErrNetwork, k)
			})
		}
		return provider.NewRESTBackend(url, cfg.BackendTimeout)
	}

	return strategy.NewRegistry(
		strategy.NewOrderReplay(backend(domain.KindOrder)),
		strategy.NewBookingReplay(backend(domain.KindBooking)),
		strategy.NewPaymentReplay(backend(domain.KindPayment), keys),
		strategy.NewTelemetryReplay(backend(domain.KindTelemetry)),
		strategy.NewMessageReplay(backend(domain.KindMessage)),
	)
}

func newProbe(cfg *config.Config) connectivity.Probe {
	link := connectivity.NewInterfaceProbe()
	if cfg.ReachabilityURL == "" {
		return link
	}
	return connectivity.CompositeProbe{
		Link:      link,
		Reachable: connectivity.NewHTTPProbe(cfg.ReachabilityURL, cfg.ProbeTimeout),
	}
}

func newEscalator(cfg *config.Config) journal.Escalator {
	if cfg.EscalationURL == "" {
		return nil
	}
	return provider.NewHTTPEscalator(cfg.EscalationURL, cfg.BackendTimeout)
}
