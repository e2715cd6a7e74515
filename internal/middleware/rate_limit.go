package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimit caps how many requests a single client IP may send to a route
// within the window. It fronts the manual receipt-verification endpoint,
// which would otherwise let a captive client enumerate receipt codes.
//
// Counting uses INCR with an EXPIRE set on the first hit of each window.
// If redis is unreachable the limiter fails open; verification failing
// closed would strand paying customers.
func RateLimit(redisClient *redis.Client, max int64, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := fmt.Sprintf("nurubill:ratelimit:%s:%s", c.Path(), c.IP())
		ctx := c.UserContext()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			log.Printf("[RateLimit] counter unavailable for %s: %v", c.IP(), err)
			return c.Next()
		}
		if count == 1 {
			if err := redisClient.Expire(ctx, key, window).Err(); err != nil {
				log.Printf("[RateLimit] expire failed for %s: %v", key, err)
			}
		}

		if count > max {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many attempts, try again later",
			})
		}

		return c.Next()
	}
}
