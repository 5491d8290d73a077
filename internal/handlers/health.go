package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/devkit/webhook-engine/internal/database"
	"github.com/devkit/webhook-engine/internal/service"
)

// HealthHandler reports dependency health
type HealthHandler struct {
	svc *service.Service
}

// NewHealthHandler creates a new health handler with dependencies
func NewHealthHandler(svc *service.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(c.Context(), h.svc.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.svc.RMQ == nil || !h.svc.RMQ.IsHealthy() {
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	} else {
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
