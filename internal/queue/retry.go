package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/skillgraph/backend/pkg/logger"
)

const (
	// MaxRetries is how often a message goes through the retry queue before
	// it is dead-lettered.
	MaxRetries  = 10
	RetryHeader = "x-retries"
)

// Outcome of a failed delivery.
const (
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
	OutcomeRequeued   = "requeued"
)

// retryCount reads the retry header. Values come back from the broker as
// whatever integer width they were written with.
func retryCount(headers amqp091.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// HandleProcessingError routes a failed delivery to the retry queue, or to the
// dead-letter queue once MaxRetries is reached or the message is malformed.
// If publishing fails the delivery is nacked and requeued.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, cause error) string {
	retries := retryCount(msg.Headers)

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target, outcome := RetryQueue(queueName), OutcomeRetry
	if retries >= MaxRetries || errors.Is(cause, ErrMalformed) {
		target, outcome = DeadLetterQueue(queueName), OutcomeDeadLetter
	} else {
		headers[RetryHeader] = int32(retries + 1)
	}

	if err := PublishFIFO(ctx, ch, target, msg.Body, headers); err != nil {
		logger.Error("Failed to publish failed message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("Failed to nack message", "err", nackErr)
		}
		return OutcomeRequeued
	}

	logger.Info("Message rerouted", "queue", target, "retries", retries, "reason", cause)
	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
	return outcome
}
