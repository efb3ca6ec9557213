package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/skillgraph/backend/internal/util"
	"github.com/skillgraph/backend/pkg/logger"
)

// DetachQueue carries requests to remove every edge of a deleted entity.
const DetachQueue = "entity_detach_queue"

// Queues lists every work queue the worker consumes.
var Queues = []string{DetachQueue}

const retryDelay = 10 * time.Second

// Channel is the publishing half of *amqp091.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher sends a message body to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queueName string, body []byte) error
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", user, pass, host, port)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "host", host, "port", port, "err", err)
	}

	return conn
}

// SetupQueues declares each queue together with its _retry queue, which
// dead-letters back into the main queue after retryDelay, and its _dlq.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err := ch.QueueDeclare(
			retryName,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
		logger.Debug("Queue ready", "queue", name)
	}

	return nil
}

func RetryQueue(name string) string {
	return name + "_retry"
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

// PublishFIFO publishes a persistent message on the default exchange.
func PublishFIFO(ctx context.Context, ch Channel, queueName string, data []byte, headers amqp091.Table) error {
	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(ctx, "", queueName, false, false, publishing)
}

// ChannelPublisher publishes through a single AMQP channel.
type ChannelPublisher struct {
	ch Channel
}

func NewPublisher(ch Channel) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, queueName string, body []byte) error {
	return PublishFIFO(ctx, p.ch, queueName, body, nil)
}
