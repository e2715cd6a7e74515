package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Idempotency replays cached responses for retried captive POSTs carrying
// an X-Idempotency-Key header. A portal page that re-submits the purchase
// form gets the original session back instead of a second STK push.
//
// Keys are scoped per route so the same header value on purchase and topup
// cannot collide. Requests without the header pass through untouched.
func Idempotency(redisClient *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		idemKey := c.Get("X-Idempotency-Key")
		if idemKey == "" {
			return c.Next()
		}

		key := fmt.Sprintf("nurubill:idem:%s:%s", c.Path(), idemKey)

		cached, err := redisClient.Get(c.UserContext(), key).Bytes()
		if err == nil && len(cached) > 0 {
			c.Set("X-Idempotent-Replay", "true")
			c.Set("Content-Type", "application/json")
			return c.Send(cached)
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Only successful outcomes are worth replaying; a failed push
		// should be retryable with the same key.
		statusCode := c.Response().StatusCode()
		if statusCode >= 200 && statusCode < 300 {
			// fiber recycles the response buffer once the handler returns
			body := make([]byte, len(c.Response().Body()))
			copy(body, c.Response().Body())
			if len(body) > 0 {
				go func() {
					bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					redisClient.Set(bgCtx, key, body, ttl)
				}()
			}
		}

		return nil
	}
}
