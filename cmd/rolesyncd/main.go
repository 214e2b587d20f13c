package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/app"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/keto"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/observability"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/persist"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/platform/cache"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/platform/db"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/roles"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, readback cache disabled", slog.Any("error", err))
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
		}
	}

	var auditLogger *shared.AuditLogger
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, audit trail disabled", slog.Any("error", err))
		} else {
			defer pool.Close()
			auditLogger = shared.NewAuditLogger(pool)
		}
	}

	ketoClient := keto.NewClient(cfg.KetoReadURL, cfg.KetoWriteURL, cfg.KetoTimeout, logger)
	readback := keto.NewReadbackCache(redisClient, cfg.ReadbackCacheTTL)
	syncer := keto.NewSyncer(ketoClient, readback, logger)

	catalog := roles.NewCatalog()
	manager := persist.NewManager(persist.Config{
		Path:             cfg.RolesDataFile,
		BackupDir:        cfg.RolesBackupDir,
		MaxBackups:       cfg.RolesMaxBackups,
		AutosaveInterval: cfg.AutosaveInterval,
	}, func() persist.Snapshot { return catalog.Snapshot() }, logger, metrics)

	var snap roles.Snapshot
	loaded, err := manager.Restore(&snap)
	if err != nil {
		logger.Error("restore snapshot", slog.Any("error", err))
		os.Exit(1)
	}
	if loaded {
		catalog.Load(&snap)
		logger.Info("catalog restored from disk",
			slog.String("snapshot_id", snap.Meta.SnapshotID),
			slog.Time("last_modified", snap.Meta.LastModified))
	}
	manager.Start()

	graphValidator := roles.NewGraphValidator(cfg.MaxInheritanceDepth)
	service := roles.NewService(logger, catalog, graphValidator, syncer, manager, auditLogger, metrics)
	rolesHandler := roles.NewHandler(logger, service, cfg.DefaultNamespace)
	adminHandler := roles.NewAdminHandler(logger, service)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		RolesHandler: rolesHandler,
		AdminHandler: adminHandler,
		Metrics:      metrics,
		KetoStatus: func() string {
			statusCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return syncer.BackendStatus(statusCtx)
		},
	})

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("role service listening", slog.String("addr", cfg.AppAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("final snapshot flush", slog.Any("error", err))
	}
}
