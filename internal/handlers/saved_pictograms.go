package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pictocache/internal/middleware"
	"pictocache/internal/models"
	"pictocache/internal/services"
)

// SavedPictogramHandler serves the per-user pictogram library
type SavedPictogramHandler struct {
	bookmarks *services.BookmarkService
}

// NewSavedPictogramHandler creates a new saved pictogram handler
func NewSavedPictogramHandler(bookmarks *services.BookmarkService) *SavedPictogramHandler {
	return &SavedPictogramHandler{bookmarks: bookmarks}
}

// List handles GET /api/pictograms/saved?lang=
func (h *SavedPictogramHandler) List(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.JSON([]models.SavedPictogram{})
	}

	saved, err := h.bookmarks.List(c.UserContext(), middleware.UserID(c), c.Query("lang"))
	if err != nil {
		return pictogramError(c, err)
	}
	return c.JSON(saved)
}

// IDs handles GET /api/pictograms/saved/ids
func (h *SavedPictogramHandler) IDs(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.JSON([]int{})
	}

	ids, err := h.bookmarks.SavedIDs(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return pictogramError(c, err)
	}
	return c.JSON(ids)
}

// Save handles POST /api/pictograms/saved
func (h *SavedPictogramHandler) Save(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return forbidden(c)
	}

	var req models.SavePictogramRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := h.bookmarks.Save(c.UserContext(), middleware.UserID(c), req.ArasaacID, req.Label); err != nil {
		return pictogramError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unsave handles DELETE /api/pictograms/saved/:id
func (h *SavedPictogramHandler) Unsave(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return forbidden(c)
	}

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pictogram id",
		})
	}

	if err := h.bookmarks.Unsave(c.UserContext(), middleware.UserID(c), id); err != nil {
		return pictogramError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RecordUse handles POST /api/pictograms/saved/:id/use
func (h *SavedPictogramHandler) RecordUse(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return forbidden(c)
	}

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pictogram id",
		})
	}

	if err := h.bookmarks.RecordUse(c.UserContext(), middleware.UserID(c), id); err != nil {
		return pictogramError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error": "Forbidden",
	})
}
