package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devkit/webhook-engine/internal/dispatcher"
	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/service"
)

// DeliveryHandler serves delivery history, the recent feed, statistics and
// manual retries
type DeliveryHandler struct {
	svc *service.Service
}

// NewDeliveryHandler creates a new delivery handler with dependencies
func NewDeliveryHandler(svc *service.Service) *DeliveryHandler {
	return &DeliveryHandler{svc: svc}
}

// ListByWebhook handles GET /api/v1/webhooks/:id/deliveries
func (h *DeliveryHandler) ListByWebhook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook id",
		})
	}

	deliveries, err := h.svc.Ledger.ListByWebhook(c.Context(), id)
	if err != nil {
		h.svc.Logger.Error("Failed to list deliveries",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list deliveries",
		})
	}
	return c.JSON(deliveries)
}

// ListRecent handles GET /api/v1/webhooks/deliveries/recent
func (h *DeliveryHandler) ListRecent(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}
	if limit > 100 {
		limit = 100
	}

	deliveries, err := h.svc.Ledger.ListRecent(c.Context(), limit)
	if err != nil {
		h.svc.Logger.Error("Failed to list recent deliveries", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list recent deliveries",
		})
	}
	return c.JSON(deliveries)
}

// Statistics handles GET /api/v1/webhooks/stats
func (h *DeliveryHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.svc.Ledger.Statistics(c.Context())
	if err != nil {
		h.svc.Logger.Error("Failed to compute statistics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute statistics",
		})
	}
	return c.JSON(stats)
}

// Retry handles POST /api/v1/webhooks/deliveries/:id/retry
func (h *DeliveryHandler) Retry(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid delivery id",
		})
	}

	err = h.svc.Dispatcher.RetryDelivery(c.Context(), id)
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusAccepted)
	case errors.Is(err, ledger.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "delivery not found",
		})
	case errors.Is(err, dispatcher.ErrNotRetryable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, dispatcher.ErrWebhookNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "webhook not found",
		})
	default:
		h.svc.Logger.Error("Failed to retry delivery",
			zap.String("delivery_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to retry delivery",
		})
	}
}
