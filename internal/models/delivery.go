package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the status of one delivery attempt row
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySuccess DeliveryStatus = "SUCCESS"
	DeliveryFailed  DeliveryStatus = "FAILED"
	// DeliveryRetrying marks an attempt that failed and has a follow-up
	// attempt scheduled; NextRetryAt is set only in this state
	DeliveryRetrying DeliveryStatus = "RETRYING"
	// DeliveryAbandoned is the terminal state after the retry policy is
	// exhausted
	DeliveryAbandoned DeliveryStatus = "ABANDONED"
)

// Delivery is one attempt to notify one webhook of one event occurrence.
// Rows sharing (webhook_id, event_id) form a delivery lineage; the payload is
// snapshotted on the first attempt and resent byte-identical on every retry
type Delivery struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	WebhookID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"webhook_id"`
	EventType      EventType      `gorm:"not null" json:"event_type"`
	EventID        string         `gorm:"not null;index" json:"event_id"`
	Payload        string         `gorm:"type:text;not null" json:"payload"`
	AttemptNumber  int            `gorm:"not null;default:1" json:"attempt_number"`
	Status         DeliveryStatus `gorm:"not null;default:'PENDING'" json:"status"`
	ResponseStatus *int           `json:"response_status_code"`
	ResponseBody   *string        `gorm:"type:text" json:"response_body"`
	ErrorMessage   *string        `gorm:"type:text" json:"error_message"`
	DeliveredAt    *time.Time     `json:"delivered_at"`
	DurationMillis *int64         `json:"duration_milliseconds"`
	NextRetryAt    *time.Time     `json:"next_retry_at"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (Delivery) TableName() string {
	return "webhook_deliveries"
}

// NewInitialDelivery creates the first attempt row of a lineage
func NewInitialDelivery(webhookID uuid.UUID, eventType EventType, eventID, payload string) *Delivery {
	return &Delivery{
		ID:            uuid.New(),
		WebhookID:     webhookID,
		EventType:     eventType,
		EventID:       eventID,
		Payload:       payload,
		AttemptNumber: 1,
		Status:        DeliveryPending,
	}
}

// NewRetryDelivery creates the next attempt row of a lineage, carrying the
// identical payload and event id
func NewRetryDelivery(prev *Delivery) *Delivery {
	return &Delivery{
		ID:            uuid.New(),
		WebhookID:     prev.WebhookID,
		EventType:     prev.EventType,
		EventID:       prev.EventID,
		Payload:       prev.Payload,
		AttemptNumber: prev.AttemptNumber + 1,
		Status:        DeliveryPending,
	}
}

// IsTerminal reports whether the row will never be mutated again
func (d *Delivery) IsTerminal() bool {
	return d.Status == DeliverySuccess || d.Status == DeliveryAbandoned
}
