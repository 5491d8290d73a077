package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devkit/webhook-engine/internal/audit"
	"github.com/devkit/webhook-engine/internal/dispatcher"
	"github.com/devkit/webhook-engine/internal/ledger"
	"github.com/devkit/webhook-engine/internal/rabbitmq"
	"github.com/devkit/webhook-engine/internal/subscriptions"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	DB         *gorm.DB
	Logger     *zap.Logger
	RMQ        *rabbitmq.Connection
	Index      *subscriptions.Index
	Ledger     *ledger.Ledger
	Audit      *audit.Service
	Dispatcher *dispatcher.Dispatcher
}

// NewService creates a new service instance with all dependencies
func NewService(
	db *gorm.DB,
	logger *zap.Logger,
	rmq *rabbitmq.Connection,
	index *subscriptions.Index,
	deliveryLedger *ledger.Ledger,
	auditSvc *audit.Service,
	disp *dispatcher.Dispatcher,
) *Service {
	return &Service{
		DB:         db,
		Logger:     logger,
		RMQ:        rmq,
		Index:      index,
		Ledger:     deliveryLedger,
		Audit:      auditSvc,
		Dispatcher: disp,
	}
}
