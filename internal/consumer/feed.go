package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/devkit/webhook-engine/internal/config"
	"github.com/devkit/webhook-engine/internal/dispatcher"
	"github.com/devkit/webhook-engine/internal/models"
	"github.com/devkit/webhook-engine/internal/rabbitmq"
)

// Feed bridges the change-event queue to the dispatch coordinator: domain
// services publish an event after their state change commits, the feed hands
// it to TriggerEvent
type Feed struct {
	cfg         *config.RabbitMQConfig
	conn        *rabbitmq.Connection
	disp        *dispatcher.Dispatcher
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     bool
}

// NewFeed creates a new feed instance with dependencies
func NewFeed(cfg *config.RabbitMQConfig, conn *rabbitmq.Connection, disp *dispatcher.Dispatcher, logger *zap.Logger) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:         cfg,
		conn:        conn,
		disp:        disp,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-engine-%d", time.Now().Unix()),
	}
}

// Start begins consuming change events from the source queue
func (f *Feed) Start() error {
	if f.cfg.SourceQueue == "" {
		return fmt.Errorf("source queue is required")
	}

	if err := f.conn.SetQoS(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := f.startConsuming(); err != nil {
		return err
	}

	f.started = true
	f.logger.Info("Change-event feed started",
		zap.String("source_queue", f.cfg.SourceQueue),
		zap.String("consumer_tag", f.consumerTag),
	)
	return nil
}

func (f *Feed) startConsuming() error {
	messages, err := f.conn.ConsumeMessages(
		f.cfg.SourceQueue,
		f.consumerTag,
		false, // autoAck (we manually ACK)
		false, // exclusive
		false, // noLocal
		false, // noWait
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", f.cfg.SourceQueue, err)
	}

	go f.processMessages(messages)
	return nil
}

// Stop gracefully stops the feed
func (f *Feed) Stop() error {
	f.logger.Info("Stopping change-event feed",
		zap.String("consumer_tag", f.consumerTag),
	)
	f.cancel()

	ch := f.conn.GetChannel()
	if ch != nil {
		if err := ch.Cancel(f.consumerTag, false); err != nil {
			f.logger.Error("Failed to cancel consumer",
				zap.String("consumer_tag", f.consumerTag),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (f *Feed) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-f.ctx.Done():
			f.logger.Info("Feed context cancelled, stopping message processing")
			return
		case msg, ok := <-messages:
			if !ok {
				f.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("source_queue", f.cfg.SourceQueue),
				)
				f.restartConsuming()
				return
			}
			ProcessMessage(f.logger, f.cfg.SourceQueue, msg, f)
		}
	}
}

// restartConsuming retries until the consumer is re-registered or the feed
// is stopped
func (f *Feed) restartConsuming() {
	for f.started {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		time.Sleep(2 * time.Second)

		if !f.conn.IsHealthy() {
			f.logger.Debug("Connection not healthy yet, waiting...",
				zap.String("source_queue", f.cfg.SourceQueue),
			)
			continue
		}

		if err := f.startConsuming(); err != nil {
			f.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("source_queue", f.cfg.SourceQueue),
				zap.Error(err),
			)
			time.Sleep(5 * time.Second)
			continue
		}

		f.logger.Info("Successfully restarted consumer after channel close",
			zap.String("source_queue", f.cfg.SourceQueue),
		)
		return
	}
}

// HandleEvent implements the EventHandler interface. It is called by the
// abstract consumer after base64 decoding
func (f *Feed) HandleEvent(decodedMessage string) error {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(decodedMessage), &event); err != nil {
		return fmt.Errorf("failed to unmarshal change event: %w", err)
	}

	if _, err := models.ParseEventType(string(event.EventType)); err != nil {
		// unknown event types are ACKed and skipped: redelivery cannot fix them
		f.logger.Warn("Skipping change event with unknown type",
			zap.String("event_type", string(event.EventType)),
		)
		return nil
	}

	f.logger.Info("Processing change event",
		zap.String("event_type", string(event.EventType)),
	)

	f.disp.TriggerEvent(f.ctx, event.EventType, event.ScopeID, event.Payload)
	return nil
}
