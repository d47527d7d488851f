package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"skrapp/internal/admission"
	"skrapp/internal/config"
)

// clientIP resolves the requester address, trusting forwarded headers
// when present.
func clientIP(c *fiber.Ctx) string {
	return admission.ClientIP(c.Get("X-Forwarded-For"), c.Get("X-Real-Ip"), c.IP())
}

// jobToken pulls the access token from the Authorization header or the
// token query parameter.
func jobToken(c *fiber.Ctx) string {
	if auth := c.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// rateLimitMiddleware enforces a per-minute fixed-window request limit per
// client address using Redis. It guards request volume; the per-address
// job concurrency cap is enforced separately at job creation.
func rateLimitMiddleware(cfg *config.Config, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := cfg.Admission.RequestsPerMinute
		if limit <= 0 {
			return c.Next()
		}

		now := time.Now().UTC()
		window := now.Format("200601021504") // YYYYMMDDHHMM minute window
		key := fmt.Sprintf("skrapp:rl:%s:%s", admission.HashIP(clientIP(c)), window)

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			// rate limiting is advisory; let the request through
			return c.Next()
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(limit) {
			return respondError(c, fiber.StatusTooManyRequests,
				"Rate limit exceeded", "Too many requests, try again later")
		}

		return c.Next()
	}
}
