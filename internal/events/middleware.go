package events

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// WithLogging logs every message a handler sees and how it ended.
func WithLogging(logger *zap.Logger, name string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			fields := []zap.Field{
				zap.String("handler", name),
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
			}
			logger.Debug("message received", fields...)

			err := next(ctx, msg)
			fields = append(fields, zap.Duration("elapsed", time.Since(start)))
			if err != nil {
				fields = append(fields, zap.String("kind", apperr.Kind(err)), zap.Error(err))
				logger.Warn("message failed", fields...)
				return err
			}
			logger.Debug("message handled", fields...)
			return nil
		}
	}
}

// WithTracing continues the producer's trace from the message headers and
// wraps the handler in a consumer span.
func WithTracing(tracer trace.Tracer, name string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
			ctx, span := tracer.Start(ctx, name,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					semconv.MessagingSystemKafka,
					semconv.MessagingDestinationName(msg.Topic),
					attribute.String("messaging.kafka.message.key", string(msg.Key)),
					attribute.Int("messaging.kafka.destination.partition", msg.Partition),
					attribute.Int64("messaging.kafka.message.offset", msg.Offset),
				),
			)
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, apperr.Kind(err))
			}
			return err
		}
	}
}

// WithRecover turns a handler panic into a fatal error so the message is
// dead-lettered instead of crashing the partition worker.
func WithRecover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("topic", msg.Topic),
						zap.Int64("offset", msg.Offset),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					err = apperr.Fatal(fmt.Errorf("handler panic: %v", r))
				}
			}()
			return next(ctx, msg)
		}
	}
}

// InjectHeaders writes the trace context of ctx into headers.
func InjectHeaders(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}
