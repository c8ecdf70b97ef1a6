package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-bank/meridian/internal/app"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/platform/cache"
	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
	"github.com/meridian-bank/meridian/internal/transfer"
	"github.com/meridian-bank/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	idempotencyStore := shared.NewIdempotencyStore(pool)
	// The sweep only invalidates tokens; the worker never verifies credentials.
	authenticator := stepup.NewAuthenticator(nil, stepup.NewRedisTokenStore(redisClient), cfg.StepUpTTL)

	transferService := transfer.NewService(transfer.ServiceConfig{
		Repo:        transfer.NewRepository(pool),
		Accounts:    ledger.NewRepository(pool),
		StepUp:      authenticator,
		Idempotency: idempotencyStore,
		Metrics:     observability.NewMetrics(),
		Logger:      logger,
		DraftTTL:    cfg.TransferTTL,
	})

	expiry := jobs.ExpiryHandler{
		Expirer:   transferService,
		Cleaner:   idempotencyStore,
		Retention: 24 * time.Hour,
		Logger:    logger,
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.HandleSendEmailTask},
			{Type: jobs.TaskTypeTransferExpiry, Handler: expiry.HandleTransferExpiry},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: expiry.HandleIdempotencyCleanup},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "* * * * *", Task: jobs.NewTransferExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
