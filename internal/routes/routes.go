package routes

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devkit/webhook-engine/internal/handlers"
	"github.com/devkit/webhook-engine/internal/service"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, svc *service.Service) {
	healthHandler := handlers.NewHealthHandler(svc)
	webhookHandler := handlers.NewWebhookHandler(svc)
	deliveryHandler := handlers.NewDeliveryHandler(svc)

	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	webhooks := api.Group("/webhooks")
	webhooks.Post("/", webhookHandler.CreateWebhook)
	webhooks.Get("/", webhookHandler.ListWebhooks)

	// fixed segments before the :id routes so they are not swallowed
	webhooks.Get("/stats", deliveryHandler.Statistics)
	webhooks.Get("/deliveries/recent", deliveryHandler.ListRecent)
	webhooks.Post("/deliveries/:id/retry", deliveryHandler.Retry)

	webhooks.Get("/:id", webhookHandler.GetWebhook)
	webhooks.Put("/:id", webhookHandler.UpdateWebhook)
	webhooks.Delete("/:id", webhookHandler.DeleteWebhook)
	webhooks.Post("/:id/activate", webhookHandler.ActivateWebhook)
	webhooks.Post("/:id/deactivate", webhookHandler.DeactivateWebhook)
	webhooks.Post("/:id/test", webhookHandler.TestWebhook)
	webhooks.Get("/:id/deliveries", deliveryHandler.ListByWebhook)
}
