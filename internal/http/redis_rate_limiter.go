package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisRateLimiter shares fixed-window counters across replicas. Each
// key is INCRed and given a TTL on first touch; the TTL doubles as the
// reset hint surfaced in the X-RateLimit-Reset header. Redis outages
// fail open so the upstream proxy keeps serving.
type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter connects to Redis and verifies it is reachable.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &redisRateLimiter{client: client, logger: logger}, nil
}

func (l *redisRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 || window <= 0 {
		return rateDecision{allowed: true, limit: limit, remaining: limit}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	redisKey := "feedbeacon:ratelimit:" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, allowing request", "error", err)
		return rateDecision{allowed: true, limit: limit, remaining: limit}
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			l.logger.Warn("failed to set rate limit expiry", "key", redisKey, "error", err)
		}
	}

	resetIn := window
	if ttl, err := l.client.TTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
		resetIn = ttl
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return rateDecision{
		allowed:   count <= int64(limit),
		limit:     limit,
		remaining: remaining,
		resetIn:   resetIn,
	}
}
