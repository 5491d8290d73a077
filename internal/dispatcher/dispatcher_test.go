package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/audit"
	"github.com/devkit/webhook-engine/internal/config"
	"github.com/devkit/webhook-engine/internal/executor"
	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/models"
	"github.com/devkit/webhook-engine/internal/subscriptions"
)

type testHarness struct {
	db     *gorm.DB
	index  *subscriptions.Index
	ledger *ledger.Ledger
	disp   *Dispatcher
}

func newHarness(t *testing.T, cfg *config.EngineConfig) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Webhook{}, &models.Delivery{}, &models.AuditLog{}))

	if cfg == nil {
		cfg = &config.EngineConfig{}
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	if cfg.SuspensionThreshold == 0 {
		cfg.SuspensionThreshold = 10
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.MaxResponseBodyBytes == 0 {
		cfg.MaxResponseBodyBytes = 4096
	}

	logger := zap.NewNop()
	index := subscriptions.NewIndex(db, logger)
	deliveryLedger := ledger.New(db)
	auditSvc := audit.NewService(db, logger)
	exec := executor.New(&http.Client{}, cfg.MaxResponseBodyBytes, logger)

	disp := NewDispatcher(db, cfg, index, deliveryLedger, exec, auditSvc, logger)
	require.NoError(t, disp.Start())
	t.Cleanup(disp.Stop)

	return &testHarness{db: db, index: index, ledger: deliveryLedger, disp: disp}
}

func (h *testHarness) createWebhook(t *testing.T, url string, mutate func(*models.Webhook)) *models.Webhook {
	t.Helper()
	webhook := &models.Webhook{
		ID:                   uuid.New(),
		Name:                 "test webhook",
		URL:                  url,
		Status:               models.WebhookActive,
		SubscribedEvents:     []models.EventType{models.ConfigUpdated},
		Secret:               "shh",
		MaxRetryAttempts:     3,
		RetryIntervalSeconds: 1,
		TimeoutSeconds:       5,
	}
	if mutate != nil {
		mutate(webhook)
	}
	require.NoError(t, h.db.Create(webhook).Error)
	require.NoError(t, h.index.Refresh(context.Background()))
	return webhook
}

func (h *testHarness) loadWebhook(t *testing.T, id uuid.UUID) *models.Webhook {
	t.Helper()
	var webhook models.Webhook
	require.NoError(t, h.db.First(&webhook, "id = ?", id).Error)
	return &webhook
}

func (h *testHarness) lineage(t *testing.T, webhookID uuid.UUID) []models.Delivery {
	t.Helper()
	var deliveries []models.Delivery
	require.NoError(t, h.db.
		Where("webhook_id = ?", webhookID).
		Order("attempt_number ASC").
		Find(&deliveries).Error)
	return deliveries
}

// fakeEndpoint is an HTTP receiver whose status code can be flipped mid-test
type fakeEndpoint struct {
	server *httptest.Server
	code   int32
	calls  int32
}

func newFakeEndpoint(t *testing.T, code int) *fakeEndpoint {
	t.Helper()
	e := &fakeEndpoint{code: int32(code)}
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&e.calls, 1)
		w.WriteHeader(int(atomic.LoadInt32(&e.code)))
	}))
	t.Cleanup(e.server.Close)
	return e
}

func (e *fakeEndpoint) setCode(code int) {
	atomic.StoreInt32(&e.code, int32(code))
}

func (e *fakeEndpoint) callCount() int32 {
	return atomic.LoadInt32(&e.calls)
}

func TestTriggerEventFansOutToMatchingWebhooks(t *testing.T) {
	h := newHarness(t, nil)
	endpointA := newFakeEndpoint(t, 200)
	endpointB := newFakeEndpoint(t, 200)

	a := h.createWebhook(t, endpointA.server.URL, nil)
	b := h.createWebhook(t, endpointB.server.URL, nil)
	// subscribed to a different event: must not receive anything
	c := h.createWebhook(t, endpointA.server.URL, func(w *models.Webhook) {
		w.SubscribedEvents = []models.EventType{models.SecretRotated}
	})

	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, map[string]interface{}{
		"key": "db.url",
	})

	require.Eventually(t, func() bool {
		la, lb := h.lineage(t, a.ID), h.lineage(t, b.ID)
		return len(la) == 1 && la[0].Status == models.DeliverySuccess &&
			len(lb) == 1 && lb[0].Status == models.DeliverySuccess
	}, 5*time.Second, 25*time.Millisecond)

	assert.Empty(t, h.lineage(t, c.ID))
	assert.Equal(t, int32(1), endpointA.callCount())

	// both lineages share the event id and the payload snapshot
	la, lb := h.lineage(t, a.ID), h.lineage(t, b.ID)
	assert.Equal(t, la[0].EventID, lb[0].EventID)
	assert.Equal(t, la[0].Payload, lb[0].Payload)
	assert.Contains(t, la[0].Payload, `"key":"db.url"`)
	assert.Contains(t, la[0].Payload, `"event_type":"CONFIG_UPDATED"`)

	updated := h.loadWebhook(t, a.ID)
	assert.Equal(t, int64(1), updated.TotalDeliveries)
	assert.Equal(t, int64(1), updated.SuccessfulDeliveries)
	assert.Equal(t, 0, updated.FailureCount)
	assert.NotNil(t, updated.LastSuccessAt)
}

func TestTriggerEventNoMatchesIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.disp.TriggerEvent(context.Background(), models.PromotionFailed, nil, nil)

	time.Sleep(100 * time.Millisecond)
	var count int64
	require.NoError(t, h.db.Model(&models.Delivery{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDeliveryRetriesUntilSuccess(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := newFakeEndpoint(t, 500)

	webhook := h.createWebhook(t, endpoint.server.URL, nil)

	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)

	// let the first two attempts fail, then recover the endpoint before the
	// third attempt comes due
	require.Eventually(t, func() bool {
		return endpoint.callCount() >= 2
	}, 10*time.Second, 25*time.Millisecond)
	endpoint.setCode(200)

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 3 && lineage[2].Status == models.DeliverySuccess
	}, 15*time.Second, 50*time.Millisecond)

	lineage := h.lineage(t, webhook.ID)
	assert.Equal(t, models.DeliveryFailed, lineage[0].Status)
	assert.Equal(t, models.DeliveryFailed, lineage[1].Status)
	assert.Equal(t, models.DeliverySuccess, lineage[2].Status)
	for _, d := range lineage {
		assert.Equal(t, lineage[0].EventID, d.EventID)
		assert.Equal(t, lineage[0].Payload, d.Payload)
	}
	assert.Nil(t, lineage[0].NextRetryAt, "closed-out attempts carry no retry timestamp")
	assert.Nil(t, lineage[1].NextRetryAt)

	// exactly one terminal outcome in the rollups
	updated := h.loadWebhook(t, webhook.ID)
	assert.Equal(t, int64(1), updated.TotalDeliveries)
	assert.Equal(t, int64(1), updated.SuccessfulDeliveries)
	assert.Equal(t, int64(0), updated.FailedDeliveries)
}

func TestZeroRetriesAbandonsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := newFakeEndpoint(t, 500)

	webhook := h.createWebhook(t, endpoint.server.URL, func(w *models.Webhook) {
		w.MaxRetryAttempts = 0
	})

	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 1 && lineage[0].Status == models.DeliveryAbandoned
	}, 5*time.Second, 25*time.Millisecond)

	lineage := h.lineage(t, webhook.ID)
	assert.Nil(t, lineage[0].NextRetryAt)
	require.NotNil(t, lineage[0].ErrorMessage)
	assert.Equal(t, "HTTP 500", *lineage[0].ErrorMessage)

	updated := h.loadWebhook(t, webhook.ID)
	assert.Equal(t, 1, updated.FailureCount)
	assert.Equal(t, int64(1), updated.FailedDeliveries)
	assert.Equal(t, int64(1), updated.TotalDeliveries)
	assert.NotNil(t, updated.LastFailureAt)
}

func TestSustainedFailureSuspendsWebhook(t *testing.T) {
	h := newHarness(t, &config.EngineConfig{SuspensionThreshold: 2})
	endpoint := newFakeEndpoint(t, 500)

	webhook := h.createWebhook(t, endpoint.server.URL, func(w *models.Webhook) {
		w.MaxRetryAttempts = 0
	})

	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)
	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)

	require.Eventually(t, func() bool {
		return h.loadWebhook(t, webhook.ID).Status == models.WebhookSuspended
	}, 10*time.Second, 25*time.Millisecond)

	// suspended webhooks leave the subscription index
	assert.False(t, h.index.Contains(webhook.ID))

	var suspensions int64
	require.NoError(t, h.db.Model(&models.AuditLog{}).
		Where("action = ?", "webhook_suspended").
		Count(&suspensions).Error)
	assert.Equal(t, int64(1), suspensions)
}

func TestTestEventIsOneShot(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := newFakeEndpoint(t, 500)

	// inactive webhook: test deliveries bypass the status gate
	webhook := h.createWebhook(t, endpoint.server.URL, func(w *models.Webhook) {
		w.Status = models.WebhookInactive
	})

	require.NoError(t, h.disp.TestWebhook(context.Background(), webhook.ID))

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 1 && lineage[0].Status == models.DeliveryAbandoned
	}, 5*time.Second, 25*time.Millisecond)

	assert.Equal(t, int32(1), endpoint.callCount())
	lineage := h.lineage(t, webhook.ID)
	assert.Equal(t, models.TestEvent, lineage[0].EventType)
	assert.Nil(t, lineage[0].NextRetryAt, "test deliveries are never retried")
}

func TestTestWebhookUnknownID(t *testing.T) {
	h := newHarness(t, nil)
	err := h.disp.TestWebhook(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestManualRetryRequiresFailedState(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := newFakeEndpoint(t, 200)

	webhook := h.createWebhook(t, endpoint.server.URL, nil)
	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 1 && lineage[0].Status == models.DeliverySuccess
	}, 5*time.Second, 25*time.Millisecond)

	lineage := h.lineage(t, webhook.ID)
	err := h.disp.RetryDelivery(context.Background(), lineage[0].ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestManualRetryRestartsAbandonedLineage(t *testing.T) {
	h := newHarness(t, nil)
	endpoint := newFakeEndpoint(t, 500)

	webhook := h.createWebhook(t, endpoint.server.URL, func(w *models.Webhook) {
		w.MaxRetryAttempts = 0
	})
	h.disp.TriggerEvent(context.Background(), models.ConfigUpdated, nil, nil)

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 1 && lineage[0].Status == models.DeliveryAbandoned
	}, 5*time.Second, 25*time.Millisecond)

	// endpoint recovers, operator retries
	endpoint.setCode(200)
	abandoned := h.lineage(t, webhook.ID)[0]
	require.NoError(t, h.disp.RetryDelivery(context.Background(), abandoned.ID))

	require.Eventually(t, func() bool {
		lineage := h.lineage(t, webhook.ID)
		return len(lineage) == 2 && lineage[1].Status == models.DeliverySuccess
	}, 5*time.Second, 25*time.Millisecond)

	lineage := h.lineage(t, webhook.ID)
	assert.Equal(t, 2, lineage[1].AttemptNumber)
	assert.Equal(t, abandoned.EventID, lineage[1].EventID)
	assert.Equal(t, abandoned.Payload, lineage[1].Payload)
}

func TestRetryDeliveryUnknownID(t *testing.T) {
	h := newHarness(t, nil)
	err := h.disp.RetryDelivery(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
