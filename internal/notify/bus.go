package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// RoutingKeyPrefix prefixes every notification routing key.
const RoutingKeyPrefix = "portal.notification."

// Meta describes a bus message.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the JSON body published to the exchange.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Publisher publishes envelopes under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, msg Envelope) error
	Close() error
}

// BusNotifier mirrors notifications onto a message bus.
type BusNotifier struct {
	publisher Publisher
	producer  string
}

// NewBusNotifier creates a notifier publishing through p.
func NewBusNotifier(p Publisher, producer string) *BusNotifier {
	return &BusNotifier{publisher: p, producer: producer}
}

// Notify implements Notifier.
func (b *BusNotifier) Notify(ctx context.Context, n *model.Notification) error {
	producer := b.producer
	env := Envelope{
		Meta: Meta{
			ID:       n.ID,
			Producer: &producer,
			Time:     n.CreatedAt,
			Type:     n.Type + ".v1",
		},
		Data: n,
	}
	if n.ThreadID != "" {
		threadID := n.ThreadID
		env.Meta.CorrelationID = &threadID
	}
	return b.publisher.Publish(ctx, RoutingKeyPrefix+n.Type, env)
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *logger.Logger
}

// DialAMQP connects with exponential backoff and declares the exchange.
func DialAMQP(ctx context.Context, url, exchange string, attempts int, log *logger.Logger) (*AMQPPublisher, error) {
	if attempts < 1 {
		attempts = 1
	}

	var conn *amqp.Connection
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn("rabbit dial failed", zap.Duration("retry_in", wait), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, exchange: exchange, logger: log}, nil
}

// Publish implements Publisher.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	correlationID := msgID
	if msg.Meta.CorrelationID != nil {
		correlationID = *msg.Meta.CorrelationID
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msgID,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.Debug("notification published", zap.String("key", key), zap.String("exchange", p.exchange))
	return nil
}

// Close closes the connection.
func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}
