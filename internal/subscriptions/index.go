package subscriptions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/models"
)

// Index is a read-mostly view mapping (application scope, event type) to the
// ACTIVE webhooks subscribed to it. It is rebuilt from persisted webhook
// records on create/update/delete and never blocks in-flight dispatch:
// readers always see a complete snapshot
type Index struct {
	db     *gorm.DB
	logger *zap.Logger

	mu     sync.RWMutex
	active []models.Webhook
}

func NewIndex(db *gorm.DB, logger *zap.Logger) *Index {
	return &Index{db: db, logger: logger}
}

// Refresh rebuilds the snapshot from the database. INACTIVE and SUSPENDED
// webhooks are excluded until reactivated
func (i *Index) Refresh(ctx context.Context) error {
	var webhooks []models.Webhook
	err := i.db.WithContext(ctx).
		Where("status = ?", models.WebhookActive).
		Find(&webhooks).Error
	if err != nil {
		return err
	}

	i.mu.Lock()
	i.active = webhooks
	i.mu.Unlock()

	i.logger.Debug("Subscription index refreshed",
		zap.Int("active_webhooks", len(webhooks)),
	)
	return nil
}

// Match returns the ACTIVE webhooks whose subscription set contains eventType
// and whose scope matches scopeID. The returned slice is a copy
func (i *Index) Match(eventType models.EventType, scopeID *string) []models.Webhook {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var matches []models.Webhook
	for _, w := range i.active {
		if !w.IsSubscribedTo(eventType) {
			continue
		}
		if !w.MatchesScope(scopeID) {
			continue
		}
		matches = append(matches, w)
	}
	return matches
}

// Contains reports whether the webhook is currently in the active snapshot
func (i *Index) Contains(id uuid.UUID) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, w := range i.active {
		if w.ID == id {
			return true
		}
	}
	return false
}
