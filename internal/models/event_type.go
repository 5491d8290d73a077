package models

import (
	"fmt"
	"strings"
)

// EventType represents a business occurrence that can trigger webhook fan-out
type EventType string

const (
	ConfigCreated     EventType = "CONFIG_CREATED"
	ConfigUpdated     EventType = "CONFIG_UPDATED"
	ConfigDeleted     EventType = "CONFIG_DELETED"
	SecretRotated     EventType = "SECRET_ROTATED"
	SecretExpired     EventType = "SECRET_EXPIRED"
	FlagUpdated       EventType = "FLAG_UPDATED"
	PromotionCreated  EventType = "PROMOTION_CREATED"
	PromotionApproved EventType = "PROMOTION_APPROVED"
	PromotionExecuted EventType = "PROMOTION_EXECUTED"
	PromotionFailed   EventType = "PROMOTION_FAILED"

	// TestEvent is reserved for operator-triggered test deliveries and cannot
	// be subscribed to
	TestEvent EventType = "TEST_EVENT"
)

// ParseEventType parses a string into an EventType
// Returns an error if the event type is unknown
func ParseEventType(name string) (EventType, error) {
	name = strings.ToUpper(strings.TrimSpace(name))

	validTypes := []EventType{
		ConfigCreated,
		ConfigUpdated,
		ConfigDeleted,
		SecretRotated,
		SecretExpired,
		FlagUpdated,
		PromotionCreated,
		PromotionApproved,
		PromotionExecuted,
		PromotionFailed,
	}

	for _, eventType := range validTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown event type: %s", name)
}
