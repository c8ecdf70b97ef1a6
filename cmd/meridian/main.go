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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-bank/meridian/internal/app"
	"github.com/meridian-bank/meridian/internal/application"
	"github.com/meridian-bank/meridian/internal/approval"
	"github.com/meridian-bank/meridian/internal/auth"
	"github.com/meridian-bank/meridian/internal/identity"
	"github.com/meridian-bank/meridian/internal/ledger"
	"github.com/meridian-bank/meridian/internal/notify"
	"github.com/meridian-bank/meridian/internal/observability"
	"github.com/meridian-bank/meridian/internal/platform/cache"
	"github.com/meridian-bank/meridian/internal/platform/db"
	"github.com/meridian-bank/meridian/internal/shared"
	"github.com/meridian-bank/meridian/internal/stepup"
	"github.com/meridian-bank/meridian/internal/transfer"
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

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()
	notifier := notify.NewAsynqNotifier(asynqClient)

	identityRepo := identity.NewRepository(pool)
	resolver := identity.NewResolver(identityRepo)
	identityMW := identity.Middleware{Resolver: resolver, Sessions: sessionManager, Logger: logger}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, resolver, sessionManager)

	authenticator := stepup.NewAuthenticator(authService, stepup.NewRedisTokenStore(redisClient), cfg.StepUpTTL)
	stepUpHandler := stepup.NewHandler(logger, authenticator, metrics)

	ledgerRepo := ledger.NewRepository(pool)
	accountsHandler := ledger.NewHandler(logger, ledgerRepo)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transfer.ServiceConfig{
		Repo:            transferRepo,
		Accounts:        ledgerRepo,
		StepUp:          authenticator,
		Idempotency:     idempotencyStore,
		Audit:           auditLogger,
		Notifier:        notifier,
		Metrics:         metrics,
		Logger:          logger,
		DraftTTL:        cfg.TransferTTL,
		ReviewThreshold: cfg.ReviewThreshold,
	})
	transferHandler := transfer.NewHandler(logger, transferService)

	applicationRepo := application.NewRepository(pool)
	applicationService := application.NewService(applicationRepo, auditLogger, logger)
	applicationHandler := application.NewHandler(logger, applicationService)

	approvalService := approval.NewService(approval.ServiceConfig{
		Decisions:    approval.NewRepository(pool),
		Applications: applicationRepo,
		AppQueue:     applicationService,
		Transfers:    transferService,
		Accounts:     ledgerRepo,
		Profiles:     identityRepo,
		StepUp:       authenticator,
		Idempotency:  idempotencyStore,
		Audit:        auditLogger,
		Notifier:     notifier,
		Metrics:      metrics,
		Logger:       logger,
	})
	approvalHandler := approval.NewHandler(logger, approvalService)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		Identity:           identityMW,
		AuthHandler:        authHandler,
		StepUpHandler:      stepUpHandler,
		AccountsHandler:    accountsHandler,
		TransferHandler:    transferHandler,
		ApplicationHandler: applicationHandler,
		ApprovalHandler:    approvalHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
