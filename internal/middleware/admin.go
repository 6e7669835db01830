package middleware

import (
	"github.com/gofiber/fiber/v2"

	"pictocache/internal/config"
	"pictocache/pkg/auth"
)

// AdminMiddleware checks if the authenticated user may change prefetch
// settings: role "admin" in the token, or listed in SUPERADMIN_USER_IDS.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := UserID(c)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		isAdmin := false

		// Check if user has admin role (set by JWT claims)
		if role, ok := c.Locals("user_role").(string); ok && role == auth.RoleAdmin {
			isAdmin = true
		}

		// Also check the explicit superadmin list from env
		if !isAdmin {
			isAdmin = IsSuperadmin(userID, cfg)
		}

		if !isAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Admin access required",
			})
		}

		// Store admin flag for handlers to use
		c.Locals("is_superadmin", true)
		return c.Next()
	}
}

// IsSuperadmin is a helper function to check if a user ID is a superadmin
func IsSuperadmin(userID string, cfg *config.Config) bool {
	for _, adminID := range cfg.SuperadminUserIDs {
		if adminID == userID {
			return true
		}
	}
	return false
}
