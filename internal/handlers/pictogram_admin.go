package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"pictocache/internal/models"
	"pictocache/internal/services"
)

// PrefetchAdminHandler exposes the idle prefetch controls to admins
type PrefetchAdminHandler struct {
	prefetch *services.PrefetchService
}

// NewPrefetchAdminHandler creates a new prefetch admin handler
func NewPrefetchAdminHandler(prefetch *services.PrefetchService) *PrefetchAdminHandler {
	return &PrefetchAdminHandler{prefetch: prefetch}
}

// GetSettings handles GET /api/admin/pictograms/prefetch
func (h *PrefetchAdminHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.prefetch.GetSettings(c.UserContext())
	if err != nil {
		return pictogramError(c, err)
	}
	return c.JSON(settings)
}

// UpdateSettings handles PUT /api/admin/pictograms/prefetch
func (h *PrefetchAdminHandler) UpdateSettings(c *fiber.Ctx) error {
	var req models.PrefetchSettingsUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	settings, err := h.prefetch.UpdateSettings(c.UserContext(), req)
	if err != nil {
		return pictogramError(c, err)
	}

	userID, _ := c.Locals("user_id").(string)
	log.Printf("🛠️  [ADMIN] Prefetch settings updated by %s (enabled=%t idle=%dm batch=%d)",
		userID, settings.Enabled, settings.IdleMinutes, settings.BatchSize)
	return c.JSON(settings)
}

// RunNow handles POST /api/admin/pictograms/prefetch/run
func (h *PrefetchAdminHandler) RunNow(c *fiber.Ctx) error {
	result, err := h.prefetch.RunNow(c.UserContext())
	if err != nil {
		return pictogramError(c, err)
	}
	return c.JSON(result)
}
