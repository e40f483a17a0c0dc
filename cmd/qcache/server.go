package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/qcache/internal/config"
	"github.com/xxxsen/qcache/internal/handler"
	"github.com/xxxsen/qcache/internal/middleware"
)

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(ctx).Info("starting server",
		zap.String("addr", addr),
		zap.Int("workers", cfg.Worker.Workers),
		zap.Int("providers", len(cfg.Embedding.Providers)),
	)

	deps := handler.RouterDeps{
		Cache:           handler.NewCacheHandler(app.cache),
		RetryRateWindow: app.retryWindow,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.Server.CORSAllowlist...),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	// workers outlive the signal so Stop can drain them
	if err := app.dispatcher.Start(context.Background()); err != nil {
		return err
	}
	app.scheduler.Start(context.Background())

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	app.scheduler.Stop()
	if err := app.dispatcher.Stop(time.Duration(cfg.Worker.StopTimeoutSecond) * time.Second); err != nil {
		logutil.GetLogger(context.Background()).Warn("worker stop", zap.Error(err))
	}
	stats := app.dispatcher.Stats()
	logutil.GetLogger(context.Background()).Info("server stopped",
		zap.Int64("jobs_processed", stats.Processed), zap.Int64("jobs_failed", stats.Failed))
	return nil
}
