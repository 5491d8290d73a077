package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/models"
)

func seedDelivery(t *testing.T, h *apiHarness, webhookID uuid.UUID, status models.DeliveryStatus) *models.Delivery {
	t.Helper()
	d := models.NewInitialDelivery(webhookID, models.ConfigUpdated, uuid.NewString(), `{"seed":true}`)
	d.Status = status
	require.NoError(t, h.svc.Ledger.RecordAttempt(context.Background(), d))
	return d
}

func TestListDeliveriesByWebhook(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/webhooks/", validCreateBody())
	var created models.Webhook
	decodeJSON(t, resp, &created)

	seedDelivery(t, h, created.ID, models.DeliverySuccess)
	seedDelivery(t, h, created.ID, models.DeliveryAbandoned)
	seedDelivery(t, h, uuid.New(), models.DeliverySuccess)

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/"+created.ID.String()+"/deliveries", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var deliveries []models.Delivery
	decodeJSON(t, resp, &deliveries)
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.Equal(t, created.ID, d.WebhookID)
	}

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/not-a-uuid/deliveries", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRecentDeliveries(t *testing.T) {
	h := newAPIHarness(t)
	for i := 0; i < 5; i++ {
		seedDelivery(t, h, uuid.New(), models.DeliverySuccess)
	}

	resp := h.request(t, http.MethodGet, "/api/v1/webhooks/deliveries/recent?limit=3", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var deliveries []models.Delivery
	decodeJSON(t, resp, &deliveries)
	assert.Len(t, deliveries, 3)

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/deliveries/recent", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &deliveries)
	assert.Len(t, deliveries, 5)

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/deliveries/recent?limit=abc", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/deliveries/recent?limit=-1", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStatisticsEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodPost, "/api/v1/webhooks/", validCreateBody())
	var created models.Webhook
	decodeJSON(t, resp, &created)
	seedDelivery(t, h, created.ID, models.DeliverySuccess)
	seedDelivery(t, h, created.ID, models.DeliveryAbandoned)

	resp = h.request(t, http.MethodGet, "/api/v1/webhooks/stats", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var stats ledger.Stats
	decodeJSON(t, resp, &stats)
	assert.Equal(t, int64(1), stats.ActiveWebhooks)
	assert.Equal(t, int64(1), stats.SucceededDeliveries)
	assert.Equal(t, int64(1), stats.AbandonedDeliveries)
}

func TestManualRetryEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	body := validCreateBody()
	body["url"] = server.URL
	resp := h.request(t, http.MethodPost, "/api/v1/webhooks/", body)
	var created models.Webhook
	decodeJSON(t, resp, &created)

	succeeded := seedDelivery(t, h, created.ID, models.DeliverySuccess)
	abandoned := seedDelivery(t, h, created.ID, models.DeliveryAbandoned)

	// succeeded lineages cannot be retried
	resp = h.request(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+succeeded.ID.String()+"/retry", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+abandoned.ID.String()+"/retry", nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		var count int64
		err := h.db.Model(&models.Delivery{}).
			Where("event_id = ? AND attempt_number = 2", abandoned.EventID).
			Count(&count).Error
		return err == nil && count == 1
	}, 5*time.Second, 25*time.Millisecond)

	resp = h.request(t, http.MethodPost, "/api/v1/webhooks/deliveries/"+uuid.NewString()+"/retry", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = h.request(t, http.MethodPost, "/api/v1/webhooks/deliveries/bogus/retry", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
