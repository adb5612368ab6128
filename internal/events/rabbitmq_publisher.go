package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig names the broker objects ledger events flow through.
// Events go to a durable topic exchange keyed by event type; Queue is bound
// to every topic this package emits.
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// Topics lists the routing keys the ledger publishes.
var Topics = []string{TopicContributionConfirmed, TopicPaymentFailed}

const (
	dialAttempts   = 10
	dialBackoff    = 2 * time.Second
	publishTimeout = 5 * time.Second
)

// RabbitMQPublisher publishes in confirm mode: Publish returns only after
// the broker has acknowledged the message.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
}

func NewRabbitMQPublisher(cfg RabbitMQConfig, logger *slog.Logger) (*RabbitMQPublisher, error) {
	conn, err := dial(cfg.URL, logger)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("rabbitmq publisher ready", "exchange", cfg.Exchange, "queue", cfg.Queue)
	return &RabbitMQPublisher{conn: conn, channel: ch, exchange: cfg.Exchange, logger: logger}, nil
}

// dial retries while the broker is still starting.
func dial(url string, logger *slog.Logger) (*amqp.Connection, error) {
	var err error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		var conn *amqp.Connection
		if conn, err = amqp.Dial(url); err == nil {
			return conn, nil
		}
		logger.Info("waiting for rabbitmq", "attempt", attempt, "of", dialAttempts, "error", err)
		time.Sleep(dialBackoff)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
}

func declareTopology(ch *amqp.Channel, cfg RabbitMQConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}
	if cfg.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	for _, topic := range Topics {
		if err := ch.QueueBind(cfg.Queue, topic, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", cfg.Queue, topic, err)
		}
	}
	return nil
}

// Publish routes payload to the exchange with topic as the routing key and
// waits for the broker confirm.
func (p *RabbitMQPublisher) Publish(ctx context.Context, id string, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		MessageId:    id,
		Type:         topic,
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, p.exchange, topic, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("no confirm for %s: %w", topic, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected %s %s", topic, id)
	}
	p.logger.Debug("published event", "id", id, "topic", topic, "exchange", p.exchange)
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.channel.Close()
	p.conn.Close()
}
