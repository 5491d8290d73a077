package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/models"
)

// Service persists the audit trail. The delivery engine writes an entry on
// every terminal lineage transition and on webhook suspension
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Log appends one audit entry. Audit failures are logged and swallowed: the
// engine must never fail a delivery transition because the trail is down
func (s *Service) Log(
	ctx context.Context,
	entityType, entityID, action, actor string,
	before, after *string,
	success bool,
	errorMessage string,
) {
	entry := models.AuditLog{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Actor:      actor,
		Before:     before,
		After:      after,
		Success:    success,
		CreatedAt:  time.Now().UTC(),
	}
	if errorMessage != "" {
		entry.ErrorMessage = &errorMessage
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error("Failed to write audit entry",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// ListByEntity returns audit entries for one entity, newest first
func (s *Service) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
