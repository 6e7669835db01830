package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"pictocache/internal/database"
	"pictocache/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db       *database.DB
	clock    *services.ActivityClock
	prefetch *services.PrefetchService
	redis    *services.RedisService
}

// NewHealthHandler creates a new health handler. redis may be nil.
func NewHealthHandler(db *database.DB, clock *services.ActivityClock, prefetch *services.PrefetchService, redis *services.RedisService) *HealthHandler {
	return &HealthHandler{db: db, clock: clock, prefetch: prefetch, redis: redis}
}

// Handle responds with server health status. The local store is an
// optimization, so an unreachable store reports "degraded", not an outage.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "healthy"
	store := "ok"
	if err := h.db.PingContext(ctx); err != nil {
		status = "degraded"
		store = "unavailable"
	}

	resp := fiber.Map{
		"status":       status,
		"store":        store,
		"dialect":      string(h.db.Dialect),
		"idle_seconds": h.clock.IdleSeconds(),
		"timestamp":    time.Now().Format(time.RFC3339),
	}
	if h.prefetch != nil {
		resp["prefetch_state"] = h.prefetch.State()
	}
	if h.redis != nil {
		resp["redis"] = "ok"
		if err := h.redis.Ping(ctx); err != nil {
			resp["redis"] = "unavailable"
		}
	}

	return c.JSON(resp)
}
