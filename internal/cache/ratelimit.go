package cache

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter is a fixed-window counter per key (INCR + TTL, EXPIRE when unset).
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	log    *zap.SugaredLogger
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration, log *zap.SugaredLogger) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window, log: log}
}

func (r *RateLimiter) key(k string) string { return fmt.Sprintf("%s:ratelimit:%s", r.prefix, k) }

// Middleware limits requests per keyFunc(c). When Redis errors the request is let through.
func (r *RateLimiter) Middleware(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		key := r.key(keyFunc(c))
		pipe := r.client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		ttl := pipe.TTL(ctx, key)
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.Warnw("rate limiter unavailable", "err", err)
			return c.Next()
		}
		count := incr.Val()
		// a counter without expiry would never reset; repair it whenever it is seen
		if ttl.Val() < 0 {
			if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
				r.log.Warnw("rate limiter expire failed", "key", key, "err", err)
				_ = r.client.Del(ctx, key).Err()
				return c.Next()
			}
		}
		if count > int64(r.limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
		}
		return c.Next()
	}
}
