package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/api"
	"github.com/d60-Lab/localsync/internal/api/handler"
	"github.com/d60-Lab/localsync/internal/notification"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/internal/retention"
	"github.com/d60-Lab/localsync/internal/service"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/tracing"
)

// @title localsync API
// @version 1.0
// @description Local-first conversation, notification and relation data layer.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Error("tracing init failed", zap.Error(err))
		os.Exit(1)
	}

	kv, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Error("open storage failed", zap.String("driver", cfg.Storage.Driver), zap.Error(err))
		os.Exit(1)
	}
	defer kv.Close()
	st := store.New(kv)

	var reconciler *service.Reconciler
	stopReconciler := func(context.Context) error { return nil }
	if cfg.Chat.Reconcile.Enabled {
		reconciler = service.NewReconciler(st, cfg.Chat.Reconcile.QueueSize)
		stopReconciler = reconciler.Start(cfg.Chat.Reconcile.Workers)
	}
	fanout := service.NewFanout(st, reconciler)

	pipeline := notification.NewPipeline(st, nil,
		notification.WithPolling(nil, cfg.Chat.UserPollInterval))
	chat := service.NewChatService(st, fanout,
		service.WithNotifier(pipeline),
		service.WithPolling(nil, cfg.Chat.ConversationPollInterval, cfg.Chat.UserPollInterval))
	rel := service.NewRelationshipService(st, fanout, pipeline)

	stopRetention := func() {}
	if cfg.Retention.Enabled {
		mgr, err := retention.NewManager(st, cfg.Retention)
		if err != nil {
			logger.Error("retention config invalid", zap.Error(err))
			os.Exit(1)
		}
		stopRetention = mgr.Start(ctx)
	}

	config.Watch(func(next *config.Config) {
		if err := logger.SetLevel(next.Log.Level); err != nil {
			logger.Warn("ignore invalid log level", zap.String("level", next.Log.Level))
			return
		}
		logger.Info("log level reloaded", zap.String("level", next.Log.Level))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.SetupRouter(cfg, handler.NewHandler(chat, rel, pipeline)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopRetention()
	if err := stopReconciler(shutdownCtx); err != nil {
		logger.Warn("reconciler drain", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
