package rateLimit

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/bunk-reservations/internal/adapters/redis"
	"github.com/robertarktes/bunk-reservations/internal/observability"
)

type RateLimiter struct {
	redis  *redisadapter.Cache
	logger observability.Logger
}

func NewRateLimiter(redis *redisadapter.Cache, logger observability.Logger) *RateLimiter {
	return &RateLimiter{redis: redis, logger: logger}
}

// Allow counts one request against key in a fixed window. When Redis is
// unreachable requests are let through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		rl.logger.WithError(err).Warn("rate limiter unavailable")
		return true
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
