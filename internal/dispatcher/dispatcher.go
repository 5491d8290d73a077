package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/audit"
	"github.com/devkit/webhook-engine/internal/config"
	"github.com/devkit/webhook-engine/internal/executor"
	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/metrics"
	"github.com/devkit/webhook-engine/internal/models"
	"github.com/devkit/webhook-engine/internal/scheduler"
	"github.com/devkit/webhook-engine/internal/signer"
	"github.com/devkit/webhook-engine/internal/subscriptions"
)

// ErrNotRetryable is returned when a manual retry targets a delivery that is
// not in a failed state
var ErrNotRetryable = errors.New("only failed or abandoned deliveries can be retried")

// Dispatcher orchestrates event fan-out: it resolves matching subscriptions,
// drives each delivery lineage through the executor/scheduler/ledger and owns
// the webhook rollup counters
type Dispatcher struct {
	db     *gorm.DB
	cfg    *config.EngineConfig
	index  *subscriptions.Index
	ledger *ledger.Ledger
	exec   *executor.Executor
	sched  *scheduler.Scheduler
	audit  *audit.Service
	logger *zap.Logger

	tasks  chan uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// per-webhook locks serialize rollup counter mutation when two lineages
	// for the same webhook reach a terminal state concurrently
	locks sync.Map
}

// NewDispatcher creates a dispatcher with its own retry scheduler
func NewDispatcher(
	db *gorm.DB,
	cfg *config.EngineConfig,
	index *subscriptions.Index,
	deliveryLedger *ledger.Ledger,
	exec *executor.Executor,
	auditSvc *audit.Service,
	logger *zap.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		db:     db,
		cfg:    cfg,
		index:  index,
		ledger: deliveryLedger,
		exec:   exec,
		audit:  auditSvc,
		logger: logger,
		tasks:  make(chan uuid.UUID, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.sched = scheduler.New(d.fireRetry, logger)
	return d
}

// Start launches the retry scheduler and the worker pool
func (d *Dispatcher) Start() error {
	if d.cfg.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker pool size must be positive")
	}

	d.sched.Start()
	for i := 0; i < d.cfg.WorkerPoolSize; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	d.logger.Info("Dispatcher started",
		zap.Int("worker_pool_size", d.cfg.WorkerPoolSize),
		zap.Int("queue_size", d.cfg.QueueSize),
	)
	return nil
}

// Stop cancels pending work and waits for in-flight attempts to finish
func (d *Dispatcher) Stop() {
	d.cancel()
	d.sched.Stop()
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// TriggerEvent fans an event out to every ACTIVE webhook whose subscription
// set contains eventType and whose scope matches. It returns before any
// network I/O happens; delivery failures never propagate to the caller
func (d *Dispatcher) TriggerEvent(
	ctx context.Context,
	eventType models.EventType,
	scopeID *string,
	payload map[string]interface{},
) {
	matches := d.index.Match(eventType, scopeID)
	if len(matches) == 0 {
		d.logger.Debug("No subscriptions match event",
			zap.String("event_type", string(eventType)),
		)
		return
	}

	eventID := uuid.NewString()
	canonical, err := d.buildPayload(eventType, eventID, scopeID, payload)
	if err != nil {
		d.logger.Error("Failed to build event payload",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
		return
	}

	for _, webhook := range matches {
		delivery := models.NewInitialDelivery(webhook.ID, eventType, eventID, canonical)
		if err := d.ledger.RecordAttempt(ctx, delivery); err != nil {
			d.logger.Error("Failed to create delivery",
				zap.String("webhook_id", webhook.ID.String()),
				zap.String("event_id", eventID),
				zap.Error(err),
			)
			continue
		}
		d.submit(delivery.ID)
	}

	d.logger.Info("Event dispatched",
		zap.String("event_type", string(eventType)),
		zap.String("event_id", eventID),
		zap.Int("lineages", len(matches)),
	)
}

// TestWebhook delivers one TEST_EVENT to a single webhook, bypassing
// subscription filtering. Test deliveries are never retried
func (d *Dispatcher) TestWebhook(ctx context.Context, webhookID uuid.UUID) error {
	webhook, err := d.loadWebhook(ctx, webhookID)
	if err != nil {
		return err
	}

	eventID := uuid.NewString()
	canonical, err := d.buildPayload(models.TestEvent, eventID, nil, map[string]interface{}{
		"test":    true,
		"message": "This is a test event from ConfigHub",
	})
	if err != nil {
		return err
	}

	delivery := models.NewInitialDelivery(webhook.ID, models.TestEvent, eventID, canonical)
	if err := d.ledger.RecordAttempt(ctx, delivery); err != nil {
		return err
	}
	d.submit(delivery.ID)

	d.logger.Info("Test event dispatched",
		zap.String("webhook_id", webhookID.String()),
		zap.String("event_id", eventID),
	)
	return nil
}

// RetryDelivery manually restarts a failed or abandoned lineage with a fresh
// attempt row carrying the identical payload
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	prev, err := d.ledger.Get(ctx, deliveryID)
	if err != nil {
		return err
	}
	if prev.Status != models.DeliveryFailed && prev.Status != models.DeliveryAbandoned {
		return ErrNotRetryable
	}
	if _, err := d.loadWebhook(ctx, prev.WebhookID); err != nil {
		return err
	}

	next := models.NewRetryDelivery(prev)
	if err := d.ledger.RecordAttempt(ctx, next); err != nil {
		return err
	}
	d.submit(next.ID)
	return nil
}

// CancelWebhook drops pending retries for a webhook after it is deleted or
// deactivated
func (d *Dispatcher) CancelWebhook(webhookID uuid.UUID) {
	d.sched.CancelWebhook(webhookID)
}

// buildPayload merges the event metadata into the caller's payload and
// serializes the canonical form signed and sent on every attempt
func (d *Dispatcher) buildPayload(
	eventType models.EventType,
	eventID string,
	scopeID *string,
	payload map[string]interface{},
) (string, error) {
	full := make(map[string]interface{}, len(payload)+4)
	for k, v := range payload {
		full[k] = v
	}
	full["event_id"] = eventID
	full["event_type"] = string(eventType)
	full["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if scopeID != nil {
		full["application_id"] = *scopeID
	}

	canonical, err := signer.CanonicalPayload(full)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

// submit hands a delivery to the worker pool without ever blocking the
// producer: a full queue delays the lineage from a detached goroutine
func (d *Dispatcher) submit(deliveryID uuid.UUID) {
	select {
	case d.tasks <- deliveryID:
		metrics.QueueDepth.Inc()
	default:
		metrics.QueueSaturationTotal.Inc()
		go func() {
			select {
			case d.tasks <- deliveryID:
				metrics.QueueDepth.Inc()
			case <-d.ctx.Done():
			}
		}()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case deliveryID := <-d.tasks:
			metrics.QueueDepth.Dec()
			d.runAttempt(deliveryID)
		}
	}
}

// runAttempt performs one attempt of one lineage. Attempts within a lineage
// are strictly sequential: the follow-up attempt is only created after this
// result is known
func (d *Dispatcher) runAttempt(deliveryID uuid.UUID) {
	ctx := d.ctx

	delivery, err := d.ledger.Get(ctx, deliveryID)
	if err != nil {
		d.logger.Error("Failed to load delivery for attempt",
			zap.String("delivery_id", deliveryID.String()),
			zap.Error(err),
		)
		return
	}

	webhook, err := d.loadWebhook(ctx, delivery.WebhookID)
	if err != nil {
		d.logger.Warn("Webhook gone before attempt, dropping delivery",
			zap.String("delivery_id", deliveryID.String()),
			zap.Error(err),
		)
		return
	}

	// checked at attempt time, not schedule time, so stale snapshots of a
	// suspended or deactivated webhook never produce calls
	if delivery.EventType != models.TestEvent && !webhook.IsActive() {
		d.logger.Debug("Webhook no longer active, dropping attempt",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("delivery_id", deliveryID.String()),
		)
		return
	}

	metrics.AttemptsTotal.Inc()
	result := d.exec.Attempt(ctx, webhook, delivery)

	now := time.Now().UTC()
	delivery.DeliveredAt = &now
	delivery.DurationMillis = &result.DurationMs
	delivery.ResponseStatus = result.StatusCode
	if result.Body != "" {
		body := result.Body
		delivery.ResponseBody = &body
	}

	if result.Success() {
		delivery.Status = models.DeliverySuccess
		delivery.NextRetryAt = nil
		if err := d.ledger.Update(ctx, delivery); err != nil {
			d.logger.Error("Failed to persist successful delivery", zap.Error(err))
		}
		d.recordSuccess(ctx, webhook.ID, delivery)

		d.logger.Info("Webhook delivery succeeded",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("event_id", delivery.EventID),
			zap.Int("attempt_number", delivery.AttemptNumber),
			zap.Int64("duration_ms", result.DurationMs),
		)
		return
	}

	errMsg := attemptError(result)
	delivery.ErrorMessage = &errMsg

	// test deliveries are one-shot by policy override
	noRetry := delivery.EventType == models.TestEvent

	decision := scheduler.Decide(
		delivery.AttemptNumber,
		webhook.MaxRetryAttempts,
		time.Duration(webhook.RetryIntervalSeconds)*time.Second,
		d.cfg.MaxBackoff,
	)

	if noRetry || !decision.Retry {
		delivery.Status = models.DeliveryAbandoned
		delivery.NextRetryAt = nil
		if err := d.ledger.Update(ctx, delivery); err != nil {
			d.logger.Error("Failed to persist abandoned delivery", zap.Error(err))
		}
		d.recordFailure(ctx, webhook.ID, delivery)

		d.logger.Warn("Webhook delivery abandoned",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("event_id", delivery.EventID),
			zap.Int("attempt_number", delivery.AttemptNumber),
			zap.String("last_error", errMsg),
		)
		return
	}

	nextAt := now.Add(decision.Delay)
	delivery.Status = models.DeliveryRetrying
	delivery.NextRetryAt = &nextAt
	if err := d.ledger.Update(ctx, delivery); err != nil {
		d.logger.Error("Failed to persist retrying delivery", zap.Error(err))
		return
	}

	d.sched.Schedule(scheduler.Item{
		WebhookID:  webhook.ID,
		DeliveryID: delivery.ID,
		DueAt:      nextAt,
	})
	metrics.RetriesScheduledTotal.Inc()

	d.logger.Info("Webhook delivery will be retried",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("event_id", delivery.EventID),
		zap.Int("attempt_number", delivery.AttemptNumber),
		zap.Time("next_retry_at", nextAt),
		zap.String("last_error", errMsg),
	)
}

// fireRetry runs on the scheduler goroutine when a retry comes due. The
// owning webhook's current state decides whether the retry still happens
func (d *Dispatcher) fireRetry(item scheduler.Item) {
	ctx := d.ctx

	prev, err := d.ledger.Get(ctx, item.DeliveryID)
	if err != nil || prev.Status != models.DeliveryRetrying {
		return
	}

	webhook, err := d.loadWebhook(ctx, item.WebhookID)
	if err != nil || !webhook.IsActive() {
		// webhook deleted or suspended since scheduling: drop the retry,
		// close out the attempt row
		prev.Status = models.DeliveryFailed
		prev.NextRetryAt = nil
		if uerr := d.ledger.Update(ctx, prev); uerr != nil {
			d.logger.Error("Failed to close out dropped retry", zap.Error(uerr))
		}
		d.logger.Debug("Dropped scheduled retry for inactive webhook",
			zap.String("webhook_id", item.WebhookID.String()),
		)
		return
	}

	prev.Status = models.DeliveryFailed
	prev.NextRetryAt = nil
	if err := d.ledger.Update(ctx, prev); err != nil {
		d.logger.Error("Failed to finalize retried attempt", zap.Error(err))
		return
	}

	next := models.NewRetryDelivery(prev)
	if err := d.ledger.RecordAttempt(ctx, next); err != nil {
		d.logger.Error("Failed to create retry attempt",
			zap.String("webhook_id", item.WebhookID.String()),
			zap.Error(err),
		)
		return
	}
	d.submit(next.ID)
}

func attemptError(result *executor.AttemptResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	if result.StatusCode != nil {
		return fmt.Sprintf("HTTP %d", *result.StatusCode)
	}
	return "no HTTP status code received"
}
