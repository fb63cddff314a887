package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/suprimenta/suprimenta/internal/app"
	"github.com/suprimenta/suprimenta/internal/observability"
	"github.com/suprimenta/suprimenta/internal/platform/cache"
	"github.com/suprimenta/suprimenta/internal/platform/db"
	"github.com/suprimenta/suprimenta/internal/purchasing"
	"github.com/suprimenta/suprimenta/internal/shared"
	"github.com/suprimenta/suprimenta/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// The configuration cache falls through to postgres, so a missing
		// redis only degrades caching and job visibility.
		logger.Warn("redis unavailable", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	repo := purchasing.NewRepository(dbpool)
	configCache := purchasing.NewConfigCache(repo, redisClient, cfg.ConfigCacheTTL, logger)
	notifier := purchasing.NewAsynqNotifier(jobClient)
	orderCreator := purchasing.NewOrderCreator(dbpool, idempotencyStore, logger)
	engine := purchasing.NewApprovalEngine(repo, configCache, auditLogger, notifier, orderCreator, logger)
	guard := purchasing.NewTransitionGuard(repo, engine, auditLogger, logger)
	quantities := purchasing.NewQuantityValidator(repo, auditLogger, logger)
	configService := purchasing.NewConfigService(repo, configCache, auditLogger, logger)

	metrics := observability.NewMetrics()
	purchasingHandler := purchasing.NewHandler(logger, guard, engine, quantities, configService, repo, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		PurchasingHandler: purchasingHandler,
		JobHandler:        jobHandler,
		Pool:              dbpool,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
