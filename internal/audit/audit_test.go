package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.AuditLog{}))
	return db
}

func TestLogAndListByEntity(t *testing.T) {
	svc := NewService(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	before := "ACTIVE"
	after := "SUSPENDED"
	svc.Log(ctx, "webhook", "wh-1", "webhook_suspended", "system",
		&before, &after, false, "suspended after 10 consecutive delivery failures")
	svc.Log(ctx, "webhook", "wh-1", "delivery_succeeded", "system",
		nil, nil, true, "")
	svc.Log(ctx, "webhook", "wh-2", "webhook_created", "api",
		nil, nil, true, "")

	entries, err := svc.ListByEntity(ctx, "webhook", "wh-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = svc.ListByEntity(ctx, "webhook", "wh-2", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "webhook_created", entries[0].Action)
	assert.True(t, entries[0].Success)
	assert.Nil(t, entries[0].ErrorMessage)
}

func TestLogCapturesTransition(t *testing.T) {
	svc := NewService(newTestDB(t), zap.NewNop())
	ctx := context.Background()

	before := "ACTIVE"
	after := "INACTIVE"
	svc.Log(ctx, "webhook", "wh-1", "webhook_deactivated", "api",
		&before, &after, true, "")

	entries, err := svc.ListByEntity(ctx, "webhook", "wh-1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Before)
	require.NotNil(t, entries[0].After)
	assert.Equal(t, "ACTIVE", *entries[0].Before)
	assert.Equal(t, "INACTIVE", *entries[0].After)
}

func TestLogSwallowsDatabaseErrors(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrator().DropTable(&models.AuditLog{}))
	svc := NewService(db, zap.NewNop())

	// must not panic or propagate
	svc.Log(context.Background(), "webhook", "wh-1", "delivery_succeeded", "system",
		nil, nil, true, "")
}
