// Package main запускает HTTP-сервер сервиса экономики гоночной игры.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/race-economy/internal/app"
	"github.com/mmeshcher/race-economy/internal/config"
	"github.com/mmeshcher/race-economy/internal/handler"
	"github.com/mmeshcher/race-economy/internal/middleware"
	"github.com/mmeshcher/race-economy/internal/tracing"
)

const serviceName = "race-economy"

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if cfg.AuthSecret == "" {
		sugar.Fatalw("configuration error", "error", "AUTH_SECRET is required")
	}

	shutdownTracing, err := tracing.Init(serviceName, cfg.JaegerEndpoint)
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		sugar.Fatalw("initialization error", "error", err.Error())
	}
	defer a.Close()

	// Проверяем справочник до старта, чтобы не принимать запросы с битым каталогом.
	if _, err := a.Catalog.Snapshot(ctx); err != nil {
		sugar.Fatalw("catalog error", "error", err.Error())
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(a.Service, logger, authMiddleware,
		handler.WithMetrics(a.Metrics.Handler()),
		handler.WithHealthCheck(a.Store.Ping),
		handler.WithCORS(cfg.CORSOrigins),
	)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Отправка событий в Kafka
	if a.Producer != nil {
		g.Go(func() error {
			return a.Producer.Run(ctx)
		})
	}

	// Планировщик переходов и обходы восстановления
	for _, r := range a.Runners() {
		g.Go(func() error {
			sugar.Infow("starting job", "job", r.Name, "interval", r.Interval)
			return r.Run(ctx)
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting economy server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
