package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookStatus represents the lifecycle status of a webhook subscription
type WebhookStatus string

const (
	WebhookActive WebhookStatus = "ACTIVE"
	// WebhookInactive means the webhook was paused by an operator
	WebhookInactive WebhookStatus = "INACTIVE"
	// WebhookSuspended means the webhook was disabled automatically after
	// sustained delivery failure and requires manual reactivation
	WebhookSuspended WebhookStatus = "SUSPENDED"
)

type Webhook struct {
	ID               uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	Name             string        `gorm:"not null" json:"name"`
	URL              string        `gorm:"not null" json:"url"`
	Description      string        `json:"description"`
	ApplicationID    *string       `json:"application_id"` // nil = tenant-wide scope
	Status           WebhookStatus `gorm:"not null;default:'ACTIVE'" json:"status"`
	SubscribedEvents []EventType   `gorm:"serializer:json;not null" json:"subscribed_events"`
	Secret           string        `gorm:"column:secret" json:"-"` // write-only HMAC key

	MaxRetryAttempts     int `gorm:"not null;default:3" json:"max_retry_attempts"`
	RetryIntervalSeconds int `gorm:"not null;default:60" json:"retry_interval_seconds"`
	TimeoutSeconds       int `gorm:"not null;default:30" json:"timeout_seconds"`

	FailureCount         int        `gorm:"not null;default:0" json:"failure_count"`
	TotalDeliveries      int64      `gorm:"not null;default:0" json:"total_deliveries"`
	SuccessfulDeliveries int64      `gorm:"not null;default:0" json:"successful_deliveries"`
	FailedDeliveries     int64      `gorm:"not null;default:0" json:"failed_deliveries"`
	LastSuccessAt        *time.Time `json:"last_success_at"`
	LastFailureAt        *time.Time `json:"last_failure_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// IsSubscribedTo reports whether the webhook subscribed to the given event type
func (w *Webhook) IsSubscribedTo(eventType EventType) bool {
	for _, et := range w.SubscribedEvents {
		if et == eventType {
			return true
		}
	}
	return false
}

// MatchesScope reports whether the webhook should receive events for the given
// application scope. A webhook without an application scope is tenant-wide and
// matches every event
func (w *Webhook) MatchesScope(scopeID *string) bool {
	if w.ApplicationID == nil {
		return true
	}
	if scopeID == nil {
		return false
	}
	return *w.ApplicationID == *scopeID
}

func (w *Webhook) IsActive() bool {
	return w.Status == WebhookActive
}
