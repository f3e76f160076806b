package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/satchel/pkg/config"
	"github.com/platinummonkey/satchel/pkg/middleware"
	"github.com/platinummonkey/satchel/pkg/observability"
	"github.com/platinummonkey/satchel/pkg/registry"
	"github.com/platinummonkey/satchel/pkg/storage"
	"github.com/platinummonkey/satchel/pkg/storage/cache"
	"github.com/platinummonkey/satchel/pkg/storage/postgres"
	"github.com/platinummonkey/satchel/pkg/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "satchel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"storage":   cfg.Storage.Type,
		"blobs":     cfg.Storage.BlobBackend,
		"auth_mode": cfg.Registry.AuthMode,
	}).Info("Starting satchel registry")

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// SQL stores
	var (
		packages registry.PackageStore
		tokens   registry.TokenStore
		db       *sql.DB
		closeDB  func() error
	)
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.Open(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open postgres storage: %w", err)
		}
		packages, tokens, db, closeDB = store, store, store.DB(), store.Close
	default:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		packages, tokens, db, closeDB = store, store, store.DB(), store.Close
	}

	// Blob store
	var blobs interface {
		registry.BlobStore
		observability.BlobChecker
	}
	switch cfg.Storage.BlobBackend {
	case "s3":
		blobs, err = storage.NewS3BlobStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create s3 blob store: %w", err)
		}
	default:
		blobs, err = storage.NewFilesystemBlobStore(cfg.Storage.FilesystemRoot)
		if err != nil {
			return fmt.Errorf("failed to create filesystem blob store: %w", err)
		}
	}

	// Token cache
	var redisClient *redis.Client
	if cfg.Storage.CacheEnabled {
		if cfg.Storage.RedisURL != "" {
			redisClient, err = cache.NewRedisClient(cfg.Storage)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
		}
		tokens = cache.NewTokenStore(tokens, redisClient, cfg.Storage)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		blobs = storage.NewInstrumentedBlobStore(blobs, cfg.Storage.BlobBackend, metrics)
	}

	serverCfg := registry.Config{
		FallbackRegistry: cfg.Registry.FallbackRegistry,
		Logger:           logger,
		Metrics:          metrics,
	}
	if cfg.Registry.AuthMode == config.AuthModeMasterKey {
		serverCfg.TokenAuthorizer = &middleware.MasterKeyAuthorizer{Key: cfg.Registry.MasterKey}
	}

	server, err := registry.NewServer(packages, tokens, blobs, serverCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on their own port so probes bypass auth entirely
	healthChecker := observability.NewHealthChecker(db, redisClient, blobs)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", healthChecker.Liveness)
	healthMux.HandleFunc("/readyz", healthChecker.Readiness)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return closeDB()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return redisClient.Close()
		})
	}
	if tp != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownTracing(ctx, tp, logger)
		})
	}

	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	go func() {
		logger.Infof("Registry listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}
