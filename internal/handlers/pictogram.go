package handlers

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"pictocache/internal/middleware"
	"pictocache/internal/models"
	"pictocache/internal/services"
)

const defaultNewestCount = 30

// PictogramHandler serves pictogram lookups
type PictogramHandler struct {
	pictograms *services.PictogramService
}

// NewPictogramHandler creates a new pictogram handler
func NewPictogramHandler(pictograms *services.PictogramService) *PictogramHandler {
	return &PictogramHandler{pictograms: pictograms}
}

// Search handles GET /api/pictograms/search/:language/:query
// Any failure degrades to an empty list so the picker stays usable.
func (h *PictogramHandler) Search(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.JSON([]models.Pictogram{})
	}

	// The app runs with UnescapePath, so params arrive decoded
	query := c.Params("query")

	results, err := h.pictograms.Search(c.UserContext(), c.Params("language"), query)
	if err != nil {
		log.Printf("⚠️  [PICTOGRAMS] Search for %q failed: %v", query, err)
		return c.JSON([]models.Pictogram{})
	}
	return c.JSON(results)
}

// GetByID handles GET /api/pictograms/:language/id/:id
func (h *PictogramHandler) GetByID(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Forbidden",
		})
	}

	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid pictogram id",
		})
	}

	pictogram, err := h.pictograms.ResolveByID(c.UserContext(), c.Params("language"), id)
	if err != nil {
		return pictogramError(c, err)
	}
	return c.JSON(pictogram)
}

// GetNewest handles GET /api/pictograms/new?lang=&n=
func (h *PictogramHandler) GetNewest(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.JSON([]models.Pictogram{})
	}

	results, err := h.pictograms.GetNewest(c.UserContext(), c.Query("lang"), c.QueryInt("n", defaultNewestCount))
	if err != nil {
		log.Printf("⚠️  [PICTOGRAMS] Fetching newest pictograms failed: %v", err)
		return c.JSON([]models.Pictogram{})
	}
	return c.JSON(results)
}

// GetKeywords handles GET /api/pictograms/keywords?lang=
func (h *PictogramHandler) GetKeywords(c *fiber.Ctx) error {
	if middleware.IsChild(c) {
		return c.JSON([]string{})
	}

	words, err := h.pictograms.GetKeywords(c.UserContext(), c.Query("lang"))
	if err != nil {
		log.Printf("⚠️  [PICTOGRAMS] Fetching keyword list failed: %v", err)
		return c.JSON([]string{})
	}
	return c.JSON(words)
}

// pictogramError maps a service error onto its HTTP status
func pictogramError(c *fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	if kind == services.ErrorKindInternal {
		log.Printf("❌ [PICTOGRAMS] %v", err)
		return c.Status(kind.HTTPStatus()).JSON(fiber.Map{
			"error": "Failed to load pictogram",
		})
	}

	message := err.Error()
	var pe *services.PictogramError
	if errors.As(err, &pe) {
		message = pe.Message
	}
	return c.Status(kind.HTTPStatus()).JSON(fiber.Map{
		"error": message,
	})
}
