package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"pictocache/internal/config"
)

// GlobalAPIRateLimiter creates a rate limiter for all API requests
// This is the first line of defense against DDoS
func GlobalAPIRateLimiter(cfg *config.RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.GlobalAPIMax,
		Expiration: cfg.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(cfg.GlobalAPIExpiration.Seconds()),
			})
		},
		SkipFailedRequests:     false,
		SkipSuccessfulRequests: false,
	})
}

// PictogramSearchRateLimiter limits search and by-id lookups, which reach the
// origin on a cache miss. Keyed by user when known.
func PictogramSearchRateLimiter(cfg *config.RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        cfg.PictogramSearchMax,
		Expiration: cfg.PictogramSearchExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			if userID := UserID(c); userID != "" {
				return "pictograms:" + userID
			}
			return "pictograms-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Pictogram lookup limit reached for: %v on %s", c.Locals("user_id"), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many pictogram lookups. Please wait before searching again.",
				"retry_after": int(cfg.PictogramSearchExpiration.Seconds()),
			})
		},
	})
}
