// Package config содержит логику чтения конфигурации сервиса экономики.
package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса экономики.
// Переменные окружения имеют приоритет над флагами.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	RedisAddress   string        `env:"REDIS_ADDRESS"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic     string        `env:"KAFKA_TOPIC" envDefault:"economy.events"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	CatalogPath    string        `env:"CATALOG_PATH"`
	CatalogTTL     time.Duration `env:"CATALOG_TTL" envDefault:"1m"`
	BillingAddress string        `env:"BILLING_ADDRESS"`
	JaegerEndpoint string        `env:"JAEGER_ENDPOINT"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:","`

	ReceiptLease    time.Duration `env:"RECEIPT_LEASE" envDefault:"2m"`
	ReceiptCacheTTL time.Duration `env:"RECEIPT_CACHE_TTL" envDefault:"24h"`

	OfferCooldown      time.Duration `env:"OFFER_COOLDOWN" envDefault:"30m"`
	OfferPurchaseDelay time.Duration `env:"OFFER_PURCHASE_DELAY" envDefault:"5m"`

	SchedulerInterval       time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	FailSafeInterval        time.Duration `env:"FAILSAFE_INTERVAL" envDefault:"15m"`
	FailSafeBuffer          time.Duration `env:"FAILSAFE_BUFFER" envDefault:"5m"`
	SafetyNetInterval       time.Duration `env:"SAFETYNET_INTERVAL" envDefault:"24h"`
	SafetyNetStuckThreshold time.Duration `env:"SAFETYNET_STUCK_THRESHOLD" envDefault:"48h"`
	SweepBatch              int           `env:"SWEEP_BATCH" envDefault:"200"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envKafkaBrokers := cfg.KafkaBrokers
	envCatalogPath := cfg.CatalogPath

	var kafkaBrokers string
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI; empty runs on the in-memory store")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for the receipt cache")
	flag.StringVar(&kafkaBrokers, "k", "", "comma separated kafka brokers")
	flag.StringVar(&cfg.CatalogPath, "c", "", "catalog yaml path; empty uses the embedded catalog")

	flag.Parse()

	if kafkaBrokers != "" {
		cfg.KafkaBrokers = splitList(kafkaBrokers)
	}

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if len(envKafkaBrokers) > 0 {
		cfg.KafkaBrokers = envKafkaBrokers
	}
	if envCatalogPath != "" {
		cfg.CatalogPath = envCatalogPath
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv читает конфигурацию только из окружения, не трогая флаги процесса.
// Используется утилитой economyctl, у которой свой разбор аргументов.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_BATCH must be positive, got %d", c.SweepBatch)
	}
	return nil
}

func splitList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
