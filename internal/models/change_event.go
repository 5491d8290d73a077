package models

import (
	"time"
)

// ChangeEvent is the message domain services publish to the change-event feed
// after a state change commits. ScopeID is nil for tenant-wide events
type ChangeEvent struct {
	EventType  EventType              `json:"event_type"`
	ScopeID    *string                `json:"scope_id"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}
