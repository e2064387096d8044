package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/bunk-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/bunk-reservations/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/bunk-reservations/internal/adapters/redis"
	"github.com/robertarktes/bunk-reservations/internal/clock"
	"github.com/robertarktes/bunk-reservations/internal/config"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"github.com/robertarktes/bunk-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "bunks-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	ledger := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	catalog := redisadapter.NewCachedCatalog(
		redisadapter.NewCache(redisClient),
		mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), logger),
		cfg.CatalogCacheTTL,
	)

	svc := reservation.NewService(ledger, catalog, clock.NewSystem(), logger,
		reservation.WithMaxAttempts(cfg.MaxTxAttempts),
		reservation.WithRetryBackoff(cfg.TxRetryBackoff),
		reservation.WithSweepBatch(cfg.SweepBatch),
		reservation.WithWorkers(cfg.EngineWorkers),
	)
	worker := NewExpiryWorker(svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.SweepInterval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpiryWorker reclaims lapsed holds on a timer so that rooms nobody touches
// still get their bunks back.
type ExpiryWorker struct {
	sweeper Sweeper
	logger  observability.Logger
}

func NewExpiryWorker(sweeper Sweeper, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{sweeper: sweeper, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	start := time.Now()
	n, err := w.sweeper.SweepExpired(ctx)
	entry := w.logger.WithField("expired", n).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Error("sweep failed")
		return
	}
	if n > 0 {
		entry.Info("expired holds reclaimed")
	}
}
