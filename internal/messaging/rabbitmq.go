package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"example.com/registry/services/customer/config"
	"example.com/registry/services/customer/internal/events"
)

// EventPublisher is the publish contract exposed to the outbox side
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, eventID uuid.UUID, body []byte) error
	Close() error
}

// DeliveryCounter tracks delivery attempts per event id so the consumer can
// stop requeueing poison messages. Satisfied by cache.RedisCache.
type DeliveryCounter interface {
	IncrementDeliveryCount(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// Handler processes one decoded event. A nil return acks the delivery; an
// error nacks it for redelivery until the delivery cap moves it to the DLQ.
type Handler func(ctx context.Context, msg events.EventMessage) error

// RabbitClient owns the broker connection. Publishers and the consumer each
// open their own channel on it; channels are not safe for concurrent use.
type RabbitClient struct {
	conn *amqp.Connection
	cfg  config.BrokerConfig
}

// NewRabbitClient connects to the broker
func NewRabbitClient(cfg config.BrokerConfig) (*RabbitClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("broker URL is empty")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	return &RabbitClient{
		conn: conn,
		cfg:  cfg,
	}, nil
}

// Close closes the broker connection and every channel opened on it
func (c *RabbitClient) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}

// Publisher publishes events to the topic exchange on a dedicated channel
type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

// NewPublisher opens a publishing channel and declares the exchange
func (c *RabbitClient) NewPublisher() (*Publisher, error) {
	channel, err := c.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open publisher channel")
	}

	err = channel.ExchangeDeclare(
		c.cfg.Exchange,
		c.cfg.ExchangeType,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, errors.Wrapf(err, "failed to declare exchange %s", c.cfg.Exchange)
	}

	return &Publisher{
		channel:  channel,
		exchange: c.cfg.Exchange,
	}, nil
}

// Publish sends one event to the exchange with the event type as routing key.
// Messages are persistent so they survive a broker restart, and carry the
// event id as message id for traceability.
func (p *Publisher) Publish(ctx context.Context, eventType string, eventID uuid.UUID, body []byte) error {
	err := p.channel.PublishWithContext(
		ctx,
		p.exchange,
		eventType, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    eventID.String(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish event %s", eventID)
	}

	return nil
}

// Close closes the publishing channel
func (p *Publisher) Close() error {
	if p.channel == nil {
		return nil
	}

	return p.channel.Close()
}

// Consume declares the topology and processes deliveries until the context is
// canceled. The in-flight delivery is always finished before returning.
func (c *RabbitClient) Consume(ctx context.Context, counter DeliveryCounter, handler Handler) error {
	channel, err := c.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open consumer channel")
	}
	defer channel.Close()

	if err := c.declareTopology(channel); err != nil {
		return err
	}

	if err := channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return errors.Wrap(err, "failed to set channel prefetch")
	}

	deliveries, err := channel.Consume(
		c.cfg.Queue,
		"",    // consumer tag, broker-generated
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to consume from queue %s", c.cfg.Queue)
	}

	log.Info().
		Str("queue", c.cfg.Queue).
		Int("prefetch_count", c.cfg.PrefetchCount).
		Msg("Consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Consumer stopping")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed by broker")
			}
			c.handleDelivery(ctx, counter, handler, delivery)
		}
	}
}

// declareTopology sets up the exchange, the queue, and the dead-letter pair.
// Rejected deliveries with requeue=false are routed by the broker to the DLX
// and land on the DLQ for offline inspection.
func (c *RabbitClient) declareTopology(channel *amqp.Channel) error {
	dlxName := c.cfg.Exchange + ".dlx"
	dlqName := c.cfg.Queue + ".dlq"

	err := channel.ExchangeDeclare(c.cfg.Exchange, c.cfg.ExchangeType, true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to declare exchange %s", c.cfg.Exchange)
	}

	err = channel.ExchangeDeclare(dlxName, "topic", true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to declare dead-letter exchange %s", dlxName)
	}

	_, err = channel.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to declare dead-letter queue %s", dlqName)
	}

	if err := channel.QueueBind(dlqName, "#", dlxName, false, nil); err != nil {
		return errors.Wrapf(err, "failed to bind dead-letter queue %s", dlqName)
	}

	_, err = channel.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": dlxName},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to declare queue %s", c.cfg.Queue)
	}

	// The queue takes every event type; the dispatcher filters by type.
	if err := channel.QueueBind(c.cfg.Queue, "#", c.cfg.Exchange, false, nil); err != nil {
		return errors.Wrapf(err, "failed to bind queue %s", c.cfg.Queue)
	}

	return nil
}

// handleDelivery decodes and dispatches one delivery, then settles it.
func (c *RabbitClient) handleDelivery(ctx context.Context, counter DeliveryCounter, handler Handler, delivery amqp.Delivery) {
	msg, err := events.Unmarshal(delivery.Body)
	if err != nil {
		// The payload will never become parseable; requeueing is pointless.
		log.Error().
			Err(err).
			Str("message_id", delivery.MessageId).
			Msg("Unparseable message, sending to dead-letter queue")

		if nackErr := delivery.Nack(false, false); nackErr != nil {
			log.Error().Err(nackErr).Msg("Failed to nack unparseable message")
		}
		return
	}

	if err := handler(ctx, msg); err != nil {
		c.rejectDelivery(ctx, counter, delivery, msg, err)
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		log.Error().
			Err(ackErr).
			Str("event_id", msg.EventID.String()).
			Msg("Failed to ack delivery, redelivery expected")
	}
}

// rejectDelivery requeues a failed delivery until the delivery cap is hit,
// then dead-letters it.
func (c *RabbitClient) rejectDelivery(ctx context.Context, counter DeliveryCounter, delivery amqp.Delivery, msg events.EventMessage, cause error) {
	attempts, err := counter.IncrementDeliveryCount(ctx, msg.EventID)
	if err != nil {
		log.Error().
			Err(err).
			Str("event_id", msg.EventID.String()).
			Msg("Failed to count delivery attempt, requeueing")
		attempts = 1
	}

	requeue := c.cfg.MaxDeliveries <= 0 || attempts < int64(c.cfg.MaxDeliveries)

	if requeue {
		log.Warn().
			Err(cause).
			Str("event_id", msg.EventID.String()).
			Str("event_type", msg.EventType).
			Int64("attempts", attempts).
			Msg("Failed to process event, requeueing")
	} else {
		log.Error().
			Err(cause).
			Str("event_id", msg.EventID.String()).
			Str("event_type", msg.EventType).
			Int64("attempts", attempts).
			Msg("Delivery cap reached, sending event to dead-letter queue")
	}

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		log.Error().
			Err(nackErr).
			Str("event_id", msg.EventID.String()).
			Msg("Failed to nack delivery")
	}
}
