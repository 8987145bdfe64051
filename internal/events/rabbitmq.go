package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange = "saga.events"

	headerKey = "message-key"
)

type RabbitConfig struct {
	URL        string
	Exchange   string
	Producer   string
	Prefetch   int
	Redelivery Redelivery
}

// RabbitBus maps topics onto routing keys of one durable topic exchange.
// Each (group, topic) pair owns a durable queue; a queue is a single
// partition, so ordering holds per queue.
type RabbitBus struct {
	cfg    RabbitConfig
	conn   *amqp.Connection
	logger *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

func NewRabbitBus(cfg RabbitConfig, logger *zap.Logger) (*RabbitBus, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	if cfg.Redelivery == (Redelivery{}) {
		cfg.Redelivery = DefaultRedelivery
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := declareExchange(ch, cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}

	return &RabbitBus{cfg: cfg, conn: conn, ch: ch, logger: logger}, nil
}

func serviceQueue(group, topic string) string {
	return group + "." + topic
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
}

func (b *RabbitBus) Publish(ctx context.Context, msg Message) error {
	headers := cloneHeaders(msg.Headers)
	if b.cfg.Producer != "" && headers[HeaderProducer] == "" {
		headers[HeaderProducer] = b.cfg.Producer
	}
	InjectHeaders(ctx, headers)

	table := amqp.Table{headerKey: string(msg.Key)}
	for k, v := range headers {
		table[k] = v
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.ch.PublishWithContext(
		pubCtx,
		b.cfg.Exchange,
		msg.Topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    headers[HeaderEventID],
			Timestamp:    ts,
			Headers:      table,
			Body:         msg.Value,
		},
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *RabbitBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declareExchange(ch, b.cfg.Exchange); err != nil {
		return fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(serviceQueue(group, topic), true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: bind queue: %w", err)
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, group, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume %s: %w", q.Name, err)
	}
	b.logger.Info("rabbitmq: consuming", zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq: delivery channel closed")
			}
			if err := b.cfg.Redelivery.deliver(ctx, b.logger, h, fromDelivery(topic, d)); err != nil {
				_ = d.Nack(false, true)
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("rabbitmq: ack: %w", err)
			}
		}
	}
}

func (b *RabbitBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.ch.Close()
	return b.conn.Close()
}

func fromDelivery(topic string, d amqp.Delivery) Message {
	headers := make(map[string]string, len(d.Headers))
	var key []byte
	for k, v := range d.Headers {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if k == headerKey {
			key = []byte(s)
			continue
		}
		headers[k] = s
	}
	return Message{
		Topic:   topic,
		Offset:  int64(d.DeliveryTag),
		Key:     key,
		Value:   d.Body,
		Headers: headers,
		Time:    d.Timestamp,
	}
}
