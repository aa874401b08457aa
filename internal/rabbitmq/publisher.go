package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher carries audit records and connection events to the bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// Status describes what NewPublisher ended up with.
type Status struct {
	Mode     string // amqp|noop
	Exchange string
	Reason   string // why the publisher is a noop
}

// NewPublisher connects to the broker and declares a durable topic exchange.
// Without a URL, or when the broker is unreachable, events are dropped by a
// noop publisher so the chat core keeps serving.
func NewPublisher(amqpURL, exchange string, log *zap.Logger) Publisher {
	if amqpURL == "" {
		log.Info("event bus disabled", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", log: log}
	}
	p, err := dial(amqpURL, exchange, log)
	if err != nil {
		log.Warn("event bus unavailable, dropping events", zap.Error(err))
		return noopPublisher{reason: err.Error(), log: log}
	}
	log.Info("event bus connected", zap.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string, log *zap.Logger) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

type amqpPublisher struct {
	// one channel, serialized; publishes are small and rare next to chat traffic
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return p.PublishJSON(ctx, routingKey, event, nil)
}

func (p *amqpPublisher) PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}
	table := amqp.Table{"x-service": "chat-core"}
	for key, value := range headers {
		table[key] = value
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		p.log.Warn("event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func (n noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return n.PublishJSON(ctx, routingKey, event, nil)
}

func (n noopPublisher) PublishJSON(_ context.Context, routingKey string, _ any, _ map[string]string) error {
	if n.log != nil {
		n.log.Debug("event dropped", zap.String("routing_key", routingKey))
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// Describe reports the publisher's mode for startup logs and health output.
func Describe(p Publisher) Status {
	switch v := p.(type) {
	case *amqpPublisher:
		return Status{Mode: "amqp", Exchange: v.exchange}
	case noopPublisher:
		return Status{Mode: "noop", Reason: v.reason}
	default:
		return Status{Mode: "unknown"}
	}
}
