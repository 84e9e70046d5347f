package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/helpdesk-mini/helpdesk/internal/service"
)

// AnalyticsHandler exposes aggregate statistics.
type AnalyticsHandler struct {
	service *service.AnalyticsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(analyticsService *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: analyticsService}
}

// Stats GET /tickets/analytics/stats.
func (h *AnalyticsHandler) Stats(c *fiber.Ctx) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(c.Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": stats})
}
