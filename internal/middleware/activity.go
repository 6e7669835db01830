package middleware

import (
	"github.com/gofiber/fiber/v2"

	"pictocache/internal/services"
)

// MarkActivity resets the idle clock for every authenticated pictogram
// request, so the prefetcher backs off while users are active. Mount it
// after LocalAuthMiddleware; requests without a user never count.
func MarkActivity(clock *services.ActivityClock) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) != "" {
			clock.Mark()
		}
		return c.Next()
	}
}
