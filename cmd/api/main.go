package main

import (
	"context"
	"log"
	"net/http"
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
	httphandler "github.com/robertarktes/bunk-reservations/internal/http"
	"github.com/robertarktes/bunk-reservations/internal/idempotency"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"github.com/robertarktes/bunk-reservations/internal/rateLimit"
	"github.com/robertarktes/bunk-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "bunks-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}
	ledger := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoClient.Database(cfg.MongoDB), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	catalog := redisadapter.NewCachedCatalog(redisCache, mongoCatalog, cfg.CatalogCacheTTL)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache, logger)

	svc := reservation.NewService(ledger, catalog, clock.NewSystem(), logger,
		reservation.WithHoldWindow(cfg.HoldWindow),
		reservation.WithMaxAttempts(cfg.MaxTxAttempts),
		reservation.WithRetryBackoff(cfg.TxRetryBackoff),
		reservation.WithWorkers(cfg.EngineWorkers),
	)

	handlers := httphandler.NewHandlers(svc, logger, map[string]httphandler.Check{
		"crdb":  pool.Ping,
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterConfig{
		Limiter:            rl,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Idempotency:        idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("bunks api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
