package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/metrics"
	"github.com/devkit/webhook-engine/internal/models"
)

// ErrWebhookNotFound is returned when a webhook row does not exist
var ErrWebhookNotFound = errors.New("webhook not found")

func (d *Dispatcher) loadWebhook(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var webhook models.Webhook
	err := d.db.WithContext(ctx).First(&webhook, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook: %w", err)
	}
	return &webhook, nil
}

// webhookLock returns the mutex serializing rollup mutation for one webhook
func (d *Dispatcher) webhookLock(id uuid.UUID) *sync.Mutex {
	v, _ := d.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// recordSuccess applies the terminal SUCCESS transition: reset the
// consecutive failure count, stamp lastSuccessAt and bump the rollups
func (d *Dispatcher) recordSuccess(ctx context.Context, webhookID uuid.UUID, delivery *models.Delivery) {
	lock := d.webhookLock(webhookID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	err := d.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", webhookID).
		Updates(map[string]interface{}{
			"failure_count":         0,
			"last_success_at":       now,
			"successful_deliveries": gorm.Expr("successful_deliveries + 1"),
			"total_deliveries":      gorm.Expr("total_deliveries + 1"),
			"updated_at":            now,
		}).Error
	if err != nil {
		d.logger.Error("Failed to update webhook rollups after success",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
	}

	metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	after := lineageSummary(delivery)
	d.audit.Log(ctx, "webhook", webhookID.String(), "delivery_succeeded", "system",
		nil, &after, true, "")
}

// recordFailure applies the terminal ABANDONED transition and suspends the
// webhook once its consecutive failure count crosses the threshold
func (d *Dispatcher) recordFailure(ctx context.Context, webhookID uuid.UUID, delivery *models.Delivery) {
	lock := d.webhookLock(webhookID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	suspended := false

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Webhook{}).
			Where("id = ?", webhookID).
			Updates(map[string]interface{}{
				"failure_count":     gorm.Expr("failure_count + 1"),
				"last_failure_at":   now,
				"failed_deliveries": gorm.Expr("failed_deliveries + 1"),
				"total_deliveries":  gorm.Expr("total_deliveries + 1"),
				"updated_at":        now,
			}).Error
		if err != nil {
			return err
		}

		var webhook models.Webhook
		if err := tx.First(&webhook, "id = ?", webhookID).Error; err != nil {
			return err
		}

		if webhook.Status == models.WebhookActive && webhook.FailureCount >= d.cfg.SuspensionThreshold {
			err := tx.Model(&models.Webhook{}).
				Where("id = ?", webhookID).
				Update("status", models.WebhookSuspended).Error
			if err != nil {
				return err
			}
			suspended = true
		}
		return nil
	})
	if err != nil {
		d.logger.Error("Failed to update webhook rollups after failure",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
		return
	}

	metrics.DeliveriesTotal.WithLabelValues("abandoned").Inc()
	errMsg := ""
	if delivery.ErrorMessage != nil {
		errMsg = *delivery.ErrorMessage
	}
	after := lineageSummary(delivery)
	d.audit.Log(ctx, "webhook", webhookID.String(), "delivery_abandoned", "system",
		nil, &after, false, errMsg)

	if suspended {
		metrics.WebhooksSuspendedTotal.Inc()
		d.sched.CancelWebhook(webhookID)
		if err := d.index.Refresh(ctx); err != nil {
			d.logger.Error("Failed to refresh subscription index after suspension",
				zap.Error(err),
			)
		}

		before := string(models.WebhookActive)
		afterStatus := string(models.WebhookSuspended)
		d.audit.Log(ctx, "webhook", webhookID.String(), "webhook_suspended", "system",
			&before, &afterStatus, false,
			fmt.Sprintf("suspended after %d consecutive delivery failures", d.cfg.SuspensionThreshold))

		d.logger.Warn("Webhook suspended after repeated failures",
			zap.String("webhook_id", webhookID.String()),
			zap.Int("threshold", d.cfg.SuspensionThreshold),
		)
	}
}

func lineageSummary(delivery *models.Delivery) string {
	summary, _ := json.Marshal(map[string]interface{}{
		"event_id":       delivery.EventID,
		"event_type":     delivery.EventType,
		"attempt_number": delivery.AttemptNumber,
		"status":         delivery.Status,
	})
	return string(summary)
}
