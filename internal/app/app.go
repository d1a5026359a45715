// Package app собирает зависимости сервиса экономики из конфигурации.
// Используется HTTP-сервером и административной утилитой.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/billing"
	"github.com/mmeshcher/race-economy/internal/cache"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/config"
	"github.com/mmeshcher/race-economy/internal/events"
	"github.com/mmeshcher/race-economy/internal/idempotency"
	"github.com/mmeshcher/race-economy/internal/metrics"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/scheduler"
	"github.com/mmeshcher/race-economy/internal/service"
	"github.com/mmeshcher/race-economy/internal/txn"
)

const eventBuffer = 1024

// App: собранные компоненты сервиса.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Clock     clock.Clock
	Store     repository.Store
	Catalog   *catalog.Cache
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Service   *service.Service

	// Producer не nil, если настроены брокеры Kafka. Его Run нужно запустить отдельно.
	Producer *events.KafkaProducer

	jobs scheduler.Deps
}

// New создаёт хранилище, кэш квитанций, справочник и сервис.
// Без DATABASE_URI используется хранилище в памяти.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Clock:   clock.Real{},
		Metrics: metrics.New(),
	}

	if cfg.DatabaseURI == "" {
		logger.Warn("DATABASE_URI is empty, using in-memory store")
		a.Store = repository.NewMemoryRepository()
	} else {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.Store = repo
	}

	var receiptCache cache.Cache
	if cfg.RedisAddress != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddress)
		if err != nil {
			_ = a.Store.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		receiptCache = rc
	} else {
		receiptCache = cache.NewMemoryCache(a.Clock)
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.Producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, eventBuffer, logger)
		a.Publisher = a.Producer
	} else {
		a.Publisher = events.Nop{}
	}

	var src catalog.Source = catalog.EmbeddedSource{}
	if cfg.CatalogPath != "" {
		src = catalog.FileSource{Path: cfg.CatalogPath}
	}
	a.Catalog = catalog.NewCache(src, a.Clock, cfg.CatalogTTL)
	a.Catalog.OnLoad(func(s *catalog.Snapshot) {
		logger.Info("catalog loaded",
			zap.Int("skus", len(s.SKUs)),
			zap.Int("crates", len(s.Crates)),
			zap.Int("offers", len(s.Offers)),
		)
	})

	receipts := idempotency.NewStore(a.Store, receiptCache, a.Clock, logger, idempotency.Options{
		Lease:    cfg.ReceiptLease,
		CacheTTL: cfg.ReceiptCacheTTL,
	})
	orch := txn.New(a.Store, receipts, a.Clock, logger,
		txn.WithPublisher(a.Publisher),
		txn.WithMetrics(a.Metrics),
	)

	machine := offer.NewMachine(offer.Config{
		Cooldown:      cfg.OfferCooldown,
		PurchaseDelay: cfg.OfferPurchaseDelay,
	})

	// Интерфейс остаётся nil без адреса верификатора.
	var verifier service.Verifier
	if cfg.BillingAddress != "" {
		verifier = billing.NewClient(cfg.BillingAddress)
	} else {
		logger.Warn("BILLING_ADDRESS is empty, IAP purchases are not verified")
	}

	a.Service = service.NewService(service.Deps{
		Store:   a.Store,
		Orch:    orch,
		Catalog: a.Catalog,
		Machine: machine,
		Billing: verifier,
		Logger:  logger,
	})

	a.jobs = scheduler.Deps{
		Store:     a.Store,
		Catalog:   a.Catalog,
		Machine:   machine,
		Clock:     a.Clock,
		Logger:    logger,
		Metrics:   a.Metrics,
		Publisher: a.Publisher,
		Batch:     cfg.SweepBatch,
	}

	return a, nil
}

// Processor выполняет наступившие переходы предложений.
func (a *App) Processor() *scheduler.Processor {
	return scheduler.NewProcessor(a.jobs)
}

// FailSafe восстанавливает просроченные активные предложения.
func (a *App) FailSafe() *scheduler.FailSafe {
	return scheduler.NewFailSafe(a.jobs, a.Config.FailSafeBuffer)
}

// SafetyNet чинит застрявших игроков.
func (a *App) SafetyNet() *scheduler.SafetyNet {
	return scheduler.NewSafetyNet(a.jobs, a.Config.SafetyNetStuckThreshold)
}

// Runners возвращает фоновые задания с интервалами из конфигурации.
func (a *App) Runners() []scheduler.Runner {
	return []scheduler.Runner{
		{
			Name:       "offer-scheduler",
			Interval:   a.Config.SchedulerInterval,
			Job:        scheduler.Every(a.Processor().RunDue),
			Logger:     a.Logger,
			RunOnStart: true,
		},
		{
			Name:     "offer-failsafe",
			Interval: a.Config.FailSafeInterval,
			Job:      scheduler.Every(a.FailSafe().Run),
			Logger:   a.Logger,
		},
		{
			Name:     "offer-safetynet",
			Interval: a.Config.SafetyNetInterval,
			Job:      scheduler.Every(a.SafetyNet().Run),
			Logger:   a.Logger,
		},
	}
}

// Close освобождает хранилище.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
