package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records a state change or terminal delivery outcome for operators
type AuditLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	EntityType   string    `gorm:"not null;index" json:"entity_type"`
	EntityID     string    `gorm:"not null;index" json:"entity_id"`
	Action       string    `gorm:"not null" json:"action"`
	Actor        string    `gorm:"not null" json:"actor"`
	Before       *string   `gorm:"type:text" json:"before"`
	After        *string   `gorm:"type:text" json:"after"`
	Success      bool      `gorm:"not null" json:"success"`
	ErrorMessage *string   `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_log"
}
