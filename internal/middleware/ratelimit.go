package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/rent_wallet/internal/apierror"
)

// RateLimit limits requests per client IP in fixed one-minute windows using
// Redis if available. Cache errors fail open.
func RateLimit(cache *redis.Client, scope string, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next() // no-op without Redis
		}
		window := time.Now().Unix() / 60
		key := "rl:" + scope + ":" + c.IP() + ":" + strconv.FormatInt(window, 10)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return apierror.New(http.StatusTooManyRequests, apierror.CodeRateLimited, "too many requests, try again later")
		}
		return c.Next()
	}
}
