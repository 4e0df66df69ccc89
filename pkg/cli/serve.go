package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/repub/registry/pkg/api"
	"github.com/repub/registry/pkg/observability"
	"github.com/repub/registry/pkg/registry"
)

func newServeCommand() *Command {
	return &Command{
		Name:        "serve",
		Description: "Start the HTTP registry service",
		Flags:       flag.NewFlagSet("serve", flag.ExitOnError),
		Run:         runServe,
	}
}

// runServe wires config, storage, the registry composition root and
// the HTTP API into one running process, grounded on cmd/spoke/main.go's
// dual-server (main + health) layout and graceful shutdown sequencing.
func runServe(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting repub registry")

	release, err := acquireServeLock()
	if err != nil {
		return err
	}
	defer release()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	if err := store.ApplyMigrations(context.Background()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	blobs, err := openBlobs(cfg)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry, continuing without it")
	}

	svc := registry.New(cfg, store, blobs, logger)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}
	defer svc.Stop()

	server := api.NewServer(cfg, store, blobs, svc.Tokens, svc.Activity, svc.Webhooks, svc.Publisher, svc.Proxy, logger)

	var handler http.Handler = server.Router
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "repub-api",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthChecker := observability.NewHealthChecker(nil, nil)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("health/metrics server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdownManager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if otelProviders != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	go func() {
		logger.Infof("registry listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	if err := shutdownManager.WaitForShutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("registry stopped")
	return nil
}
