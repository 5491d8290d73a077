package handlers

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/dispatcher"
	"github.com/devkit/webhook-engine/internal/models"
	"github.com/devkit/webhook-engine/internal/service"
)

// WebhookHandler handles webhook CRUD and lifecycle endpoints
type WebhookHandler struct {
	svc *service.Service
}

// NewWebhookHandler creates a new webhook handler with dependencies
func NewWebhookHandler(svc *service.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

type webhookRequest struct {
	Name                 string   `json:"name"`
	URL                  string   `json:"url"`
	Description          string   `json:"description"`
	ApplicationID        *string  `json:"application_id"`
	SubscribedEvents     []string `json:"subscribed_events"`
	Secret               string   `json:"secret"`
	MaxRetryAttempts     *int     `json:"max_retry_attempts"`
	RetryIntervalSeconds *int     `json:"retry_interval_seconds"`
	TimeoutSeconds       *int     `json:"timeout_seconds"`
}

// validate rejects configuration errors synchronously so they never reach
// the delivery pipeline
func (r *webhookRequest) validate() ([]models.EventType, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	parsed, err := url.ParseRequestURI(r.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("url must be a valid http or https URL")
	}
	if len(r.SubscribedEvents) == 0 {
		return nil, fmt.Errorf("subscribed_events cannot be empty")
	}

	events := make([]models.EventType, 0, len(r.SubscribedEvents))
	for _, name := range r.SubscribedEvents {
		eventType, err := models.ParseEventType(name)
		if err != nil {
			return nil, err
		}
		events = append(events, eventType)
	}

	if r.MaxRetryAttempts != nil && *r.MaxRetryAttempts < 0 {
		return nil, fmt.Errorf("max_retry_attempts must be >= 0")
	}
	if r.RetryIntervalSeconds != nil && *r.RetryIntervalSeconds <= 0 {
		return nil, fmt.Errorf("retry_interval_seconds must be > 0")
	}
	if r.TimeoutSeconds != nil && *r.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("timeout_seconds must be > 0")
	}

	return events, nil
}

// CreateWebhook handles POST /api/v1/webhooks
func (h *WebhookHandler) CreateWebhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	events, err := req.validate()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	now := time.Now().UTC()
	webhook := models.Webhook{
		ID:                   uuid.New(),
		Name:                 req.Name,
		URL:                  req.URL,
		Description:          req.Description,
		ApplicationID:        req.ApplicationID,
		Status:               models.WebhookActive,
		SubscribedEvents:     events,
		Secret:               req.Secret,
		MaxRetryAttempts:     3,
		RetryIntervalSeconds: 60,
		TimeoutSeconds:       30,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.MaxRetryAttempts != nil {
		webhook.MaxRetryAttempts = *req.MaxRetryAttempts
	}
	if req.RetryIntervalSeconds != nil {
		webhook.RetryIntervalSeconds = *req.RetryIntervalSeconds
	}
	if req.TimeoutSeconds != nil {
		webhook.TimeoutSeconds = *req.TimeoutSeconds
	}

	if err := h.svc.DB.Create(&webhook).Error; err != nil {
		h.svc.Logger.Error("Failed to create webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create webhook",
		})
	}

	h.refreshIndex(c)
	h.svc.Audit.Log(c.Context(), "webhook", webhook.ID.String(), "webhook_created", "api",
		nil, nil, true, "")

	h.svc.Logger.Info("Created webhook",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("name", webhook.Name),
		zap.String("url", webhook.URL),
	)
	return c.Status(fiber.StatusCreated).JSON(webhook)
}

// GetWebhook handles GET /api/v1/webhooks/:id
func (h *WebhookHandler) GetWebhook(c *fiber.Ctx) error {
	webhook, err := h.loadWebhook(c)
	if webhook == nil {
		return err
	}
	return c.JSON(webhook)
}

// ListWebhooks handles GET /api/v1/webhooks with an optional status filter
func (h *WebhookHandler) ListWebhooks(c *fiber.Ctx) error {
	query := h.svc.DB.Order("created_at DESC")

	if status := c.Query("status"); status != "" {
		switch models.WebhookStatus(status) {
		case models.WebhookActive, models.WebhookInactive, models.WebhookSuspended:
			query = query.Where("status = ?", status)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid status filter",
			})
		}
	}

	var webhooks []models.Webhook
	if err := query.Find(&webhooks).Error; err != nil {
		h.svc.Logger.Error("Failed to list webhooks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list webhooks",
		})
	}
	return c.JSON(webhooks)
}

// UpdateWebhook handles PUT /api/v1/webhooks/:id. The secret is write-only:
// an empty secret in the request leaves the stored one untouched
func (h *WebhookHandler) UpdateWebhook(c *fiber.Ctx) error {
	webhook, err := h.loadWebhook(c)
	if webhook == nil {
		return err
	}

	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	events, err := req.validate()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	webhook.Name = req.Name
	webhook.URL = req.URL
	webhook.Description = req.Description
	webhook.ApplicationID = req.ApplicationID
	webhook.SubscribedEvents = events
	if req.Secret != "" {
		webhook.Secret = req.Secret
	}
	if req.MaxRetryAttempts != nil {
		webhook.MaxRetryAttempts = *req.MaxRetryAttempts
	}
	if req.RetryIntervalSeconds != nil {
		webhook.RetryIntervalSeconds = *req.RetryIntervalSeconds
	}
	if req.TimeoutSeconds != nil {
		webhook.TimeoutSeconds = *req.TimeoutSeconds
	}
	webhook.UpdatedAt = time.Now().UTC()

	if err := h.svc.DB.Save(webhook).Error; err != nil {
		h.svc.Logger.Error("Failed to update webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update webhook",
		})
	}

	h.refreshIndex(c)
	h.svc.Audit.Log(c.Context(), "webhook", webhook.ID.String(), "webhook_updated", "api",
		nil, nil, true, "")
	return c.JSON(webhook)
}

// ActivateWebhook handles POST /api/v1/webhooks/:id/activate. Reactivation
// clears the consecutive failure count so a recovered endpoint starts fresh
func (h *WebhookHandler) ActivateWebhook(c *fiber.Ctx) error {
	return h.setStatus(c, models.WebhookActive, "webhook_activated")
}

// DeactivateWebhook handles POST /api/v1/webhooks/:id/deactivate
func (h *WebhookHandler) DeactivateWebhook(c *fiber.Ctx) error {
	return h.setStatus(c, models.WebhookInactive, "webhook_deactivated")
}

func (h *WebhookHandler) setStatus(c *fiber.Ctx, status models.WebhookStatus, action string) error {
	webhook, err := h.loadWebhook(c)
	if webhook == nil {
		return err
	}

	before := string(webhook.Status)
	webhook.Status = status
	if status == models.WebhookActive {
		webhook.FailureCount = 0
	}
	webhook.UpdatedAt = time.Now().UTC()

	if err := h.svc.DB.Save(webhook).Error; err != nil {
		h.svc.Logger.Error("Failed to change webhook status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to change webhook status",
		})
	}

	h.refreshIndex(c)
	if status != models.WebhookActive {
		h.svc.Dispatcher.CancelWebhook(webhook.ID)
	}

	after := string(status)
	h.svc.Audit.Log(c.Context(), "webhook", webhook.ID.String(), action, "api",
		&before, &after, true, "")

	h.svc.Logger.Info("Webhook status changed",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("status", after),
	)
	return c.JSON(webhook)
}

// DeleteWebhook handles DELETE /api/v1/webhooks/:id
func (h *WebhookHandler) DeleteWebhook(c *fiber.Ctx) error {
	webhook, err := h.loadWebhook(c)
	if webhook == nil {
		return err
	}

	if err := h.svc.DB.Delete(webhook).Error; err != nil {
		h.svc.Logger.Error("Failed to delete webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete webhook",
		})
	}

	h.refreshIndex(c)
	h.svc.Dispatcher.CancelWebhook(webhook.ID)
	h.svc.Audit.Log(c.Context(), "webhook", webhook.ID.String(), "webhook_deleted", "api",
		nil, nil, true, "")

	h.svc.Logger.Info("Deleted webhook",
		zap.String("webhook_id", webhook.ID.String()),
	)
	return c.SendStatus(fiber.StatusNoContent)
}

// TestWebhook handles POST /api/v1/webhooks/:id/test: one TEST_EVENT
// delivery with the retry policy overridden to zero
func (h *WebhookHandler) TestWebhook(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook id",
		})
	}

	if err := h.svc.Dispatcher.TestWebhook(c.Context(), id); err != nil {
		if errors.Is(err, dispatcher.ErrWebhookNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "webhook not found",
			})
		}
		h.svc.Logger.Error("Failed to dispatch test event", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to dispatch test event",
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (h *WebhookHandler) loadWebhook(c *fiber.Ctx) (*models.Webhook, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook id",
		})
	}

	var webhook models.Webhook
	err = h.svc.DB.First(&webhook, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "webhook not found",
		})
	}
	if err != nil {
		h.svc.Logger.Error("Failed to load webhook", zap.Error(err))
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load webhook",
		})
	}
	return &webhook, nil
}

func (h *WebhookHandler) refreshIndex(c *fiber.Ctx) {
	if err := h.svc.Index.Refresh(c.Context()); err != nil {
		h.svc.Logger.Error("Failed to refresh subscription index", zap.Error(err))
	}
}
