package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	OTLPProtocol string
	LogLevel     string

	// HoldWindow is how long a claimed bunk stays payable.
	HoldWindow     time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	MaxTxAttempts  int
	TxRetryBackoff time.Duration
	// EngineWorkers bounds how many rooms the engine reclaims or annotates
	// in parallel.
	EngineWorkers int

	CatalogCacheTTL    time.Duration
	IdempotencyTTL     time.Duration
	RateLimitPerMinute int
	OutboxInterval     time.Duration
	OutboxBatch        int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getenv("MONGO_DB", "bunks"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPProtocol: getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.HoldWindow, err = duration("HOLD_WINDOW", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = duration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.TxRetryBackoff, err = duration("TX_RETRY_BACKOFF", 20*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.CatalogCacheTTL, err = duration("CATALOG_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = duration("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxTxAttempts, err = integer("MAX_TX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SweepBatch, err = integer("SWEEP_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.EngineWorkers, err = integer("ENGINE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerMinute, err = integer("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.OutboxBatch, err = integer("OUTBOX_BATCH", 50); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Newf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if n <= 0 {
		return 0, errors.Newf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
