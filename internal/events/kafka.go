package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type KafkaConfig struct {
	Brokers  []string
	Producer string

	// PartitionBuffer is how many fetched messages may wait for one
	// partition worker before fetching stalls.
	PartitionBuffer int
	BatchTimeout    time.Duration
	Redelivery      Redelivery
}

// KafkaBus publishes through a traced, key-hashed kafka-go writer and
// consumes with one reader per (topic, group) fanned out to a sequential
// worker per partition. Offsets are committed only after the handler
// accepted the message.
type KafkaBus struct {
	cfg    KafkaConfig
	writer *otelkafka.Writer
	logger *zap.Logger
}

func NewKafkaBus(cfg KafkaConfig, tp trace.TracerProvider, logger *zap.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.PartitionBuffer <= 0 {
		cfg.PartitionBuffer = 64
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.Redelivery == (Redelivery{}) {
		cfg.Redelivery = DefaultRedelivery
	}

	base := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingSystemKafka,
				attribute.String("messaging.kafka.client_id", cfg.Producer),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: traced writer: %w", err)
	}

	return &KafkaBus{cfg: cfg, writer: writer, logger: logger}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	headers := cloneHeaders(msg.Headers)
	if b.cfg.Producer != "" && headers[HeaderProducer] == "" {
		headers[HeaderProducer] = b.cfg.Producer
	}

	km := kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: toKafkaHeaders(headers),
		Time:    msg.Time,
	}
	if err := b.writer.WriteMessage(ctx, km); err != nil {
		return fmt.Errorf("kafka: write %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *KafkaBus) Subscribe(ctx context.Context, topic, group string, h HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.cfg.Brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	defer func() {
		if err := reader.Close(); err != nil {
			b.logger.Error("kafka: close reader", zap.String("topic", topic), zap.Error(err))
		}
	}()

	b.logger.Info("kafka: consuming", zap.String("topic", topic), zap.String("group", group))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		workers := make(map[int]chan kafka.Message)
		defer func() {
			for _, q := range workers {
				close(q)
			}
		}()

		for {
			m, err := reader.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("kafka: fetch %s: %w", topic, err)
			}

			q, ok := workers[m.Partition]
			if !ok {
				q = make(chan kafka.Message, b.cfg.PartitionBuffer)
				workers[m.Partition] = q
				g.Go(func() error {
					return b.work(gctx, reader, q, h)
				})
			}

			select {
			case q <- m:
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

// work handles one partition in offset order.
func (b *KafkaBus) work(ctx context.Context, reader *kafka.Reader, q <-chan kafka.Message, h HandlerFunc) error {
	for {
		var m kafka.Message
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-q:
			if !ok {
				return nil
			}
			m = next
		}

		if err := b.cfg.Redelivery.deliver(ctx, b.logger, h, fromKafka(m)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka: commit %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}
	}
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

func fromKafka(m kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
		Time:      m.Time,
	}
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}
