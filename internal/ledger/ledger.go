package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/models"
)

// ErrNotFound is returned when a delivery row does not exist
var ErrNotFound = errors.New("delivery not found")

// Ledger is the durable, append-only record of delivery attempts. Rows are
// mutated only until they reach a terminal status; there is no deletion API,
// retention is an operational concern
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// RecordAttempt persists a new attempt row
func (l *Ledger) RecordAttempt(ctx context.Context, delivery *models.Delivery) error {
	if err := l.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}
	return nil
}

// Update persists the mutated state of an attempt row
func (l *Ledger) Update(ctx context.Context, delivery *models.Delivery) error {
	if err := l.db.WithContext(ctx).Save(delivery).Error; err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return nil
}

// Get returns one attempt row by id
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	var delivery models.Delivery
	err := l.db.WithContext(ctx).First(&delivery, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery: %w", err)
	}
	return &delivery, nil
}

// ListByWebhook returns all attempt rows for one webhook, newest first
func (l *Ledger) ListByWebhook(ctx context.Context, webhookID uuid.UUID) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := l.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC, attempt_number DESC").
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}

// ListLineage returns the attempt rows of one lineage in attempt order
func (l *Ledger) ListLineage(ctx context.Context, webhookID uuid.UUID, eventID string) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := l.db.WithContext(ctx).
		Where("webhook_id = ? AND event_id = ?", webhookID, eventID).
		Order("attempt_number ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list lineage: %w", err)
	}
	return deliveries, nil
}

// ListRecent returns the most recent attempt rows across all webhooks
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]models.Delivery, error) {
	var deliveries []models.Delivery
	err := l.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent deliveries: %w", err)
	}
	return deliveries, nil
}

// Stats are cross-webhook delivery aggregates for the statistics endpoint
type Stats struct {
	ActiveWebhooks      int64 `json:"active_webhooks"`
	InactiveWebhooks    int64 `json:"inactive_webhooks"`
	SuspendedWebhooks   int64 `json:"suspended_webhooks"`
	PendingDeliveries   int64 `json:"pending_deliveries"`
	RetryingDeliveries  int64 `json:"retrying_deliveries"`
	SucceededDeliveries int64 `json:"succeeded_deliveries"`
	AbandonedDeliveries int64 `json:"abandoned_deliveries"`
}

// Statistics aggregates webhook and delivery counts by status
func (l *Ledger) Statistics(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	webhookCounts := map[models.WebhookStatus]*int64{
		models.WebhookActive:    &stats.ActiveWebhooks,
		models.WebhookInactive:  &stats.InactiveWebhooks,
		models.WebhookSuspended: &stats.SuspendedWebhooks,
	}
	for status, dest := range webhookCounts {
		err := l.db.WithContext(ctx).Model(&models.Webhook{}).
			Where("status = ?", status).
			Count(dest).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count webhooks: %w", err)
		}
	}

	deliveryCounts := map[models.DeliveryStatus]*int64{
		models.DeliveryPending:   &stats.PendingDeliveries,
		models.DeliveryRetrying:  &stats.RetryingDeliveries,
		models.DeliverySuccess:   &stats.SucceededDeliveries,
		models.DeliveryAbandoned: &stats.AbandonedDeliveries,
	}
	for status, dest := range deliveryCounts {
		err := l.db.WithContext(ctx).Model(&models.Delivery{}).
			Where("status = ?", status).
			Count(dest).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count deliveries: %w", err)
		}
	}

	return stats, nil
}
