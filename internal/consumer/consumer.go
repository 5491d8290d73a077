package consumer

import (
	"encoding/base64"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventHandler is the interface feed consumers implement to handle decoded
// messages
type EventHandler interface {
	HandleEvent(decodedMessage string) error
}

// ProcessMessage processes a RabbitMQ message:
// 1. Decodes the base64-encoded body
// 2. Calls the handler's HandleEvent method
// 3. ACKs on success, NACKs (no requeue) on failure
func ProcessMessage(
	logger *zap.Logger,
	queue string,
	msg amqp.Delivery,
	handler EventHandler,
) {
	decodedMessage, err := base64.StdEncoding.DecodeString(string(msg.Body))
	if err != nil {
		logger.Error("Failed to decode base64 message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := handler.HandleEvent(string(decodedMessage)); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.String("decoded_message", string(decodedMessage)),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}
}

// rejectMessage rejects a message (NACK with requeue=false)
func rejectMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack a message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		panic(fmt.Sprintf("failed to nack message: %v", err))
	}
}
