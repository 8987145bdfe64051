// Package reservation drives a reservable resource through the saga: it
// reserves on NEW, finalizes on CONFIRMED and compensates on ROLLBACK.
package reservation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Decision is a reservation outcome. Replayed is set when the decision was
// read back from an earlier delivery instead of being made now.
type Decision struct {
	Status   order.Status
	Replayed bool
}

// Resource is the stock or ledger an engine reserves against. Every method
// is idempotent per order id.
type Resource interface {
	Source() order.Source
	Reserve(ctx context.Context, rec order.Record) (Decision, error)
	// Confirm finalizes a reservation. It reports whether anything changed.
	Confirm(ctx context.Context, rec order.Record) (bool, error)
	// Release reverses a reservation. It reports whether anything changed.
	Release(ctx context.Context, rec order.Record) (bool, error)
}

type Engine struct {
	res          Resource
	pub          events.Publisher
	outcomeTopic string
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewEngine(res Resource, pub events.Publisher, outcomeTopic string, logger *zap.Logger, tracer trace.Tracer) *Engine {
	return &Engine{
		res:          res,
		pub:          pub,
		outcomeTopic: outcomeTopic,
		logger:       logger.With(zap.String("engine", res.Source().String())),
		tracer:       tracer,
	}
}

// Handle consumes one record from the orders topic.
func (e *Engine) Handle(ctx context.Context, msg events.Message) error {
	rec, err := order.Decode(msg.Value)
	if err != nil {
		return err
	}

	switch rec.Status {
	case order.StatusNew:
		return e.reserve(ctx, rec)
	case order.StatusConfirmed:
		return e.confirm(ctx, rec)
	case order.StatusRollback:
		return e.rollback(ctx, rec)
	case order.StatusAccept, order.StatusReject:
		return nil
	default:
		return fmt.Errorf("%w: order %s: unhandled status %s", apperr.ErrMalformed, rec.OrderID, rec.Status)
	}
}

func (e *Engine) reserve(ctx context.Context, rec order.Record) error {
	ctx, span := e.tracer.Start(ctx, "reservation.reserve", trace.WithAttributes(
		attribute.String("order.id", rec.OrderID),
		attribute.String("order.source", e.res.Source().String()),
	))
	defer span.End()

	d, err := e.res.Reserve(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
		return fmt.Errorf("reserve order %s: %w", rec.OrderID, err)
	}
	span.SetAttributes(
		attribute.String("order.decision", d.Status.String()),
		attribute.Bool("order.replayed", d.Replayed),
	)

	out, err := events.RecordMessage(e.outcomeTopic, rec.WithStatus(d.Status, e.res.Source()))
	if err != nil {
		return err
	}
	events.InjectHeaders(ctx, out.Headers)
	if err := e.pub.Publish(ctx, out); err != nil {
		return fmt.Errorf("publish outcome for order %s: %w", rec.OrderID, err)
	}

	e.logger.Info("reservation decided",
		zap.String("order_id", rec.OrderID),
		zap.Stringer("status", d.Status),
		zap.Bool("replayed", d.Replayed),
	)
	return nil
}

func (e *Engine) confirm(ctx context.Context, rec order.Record) error {
	ctx, span := e.tracer.Start(ctx, "reservation.confirm", trace.WithAttributes(attribute.String("order.id", rec.OrderID)))
	defer span.End()

	changed, err := e.res.Confirm(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("confirm order %s: %w", rec.OrderID, err)
	}
	e.logger.Info("reservation confirmed", zap.String("order_id", rec.OrderID), zap.Bool("changed", changed))
	return nil
}

func (e *Engine) rollback(ctx context.Context, rec order.Record) error {
	if rec.Source == e.res.Source() {
		e.logger.Debug("skipping compensation for own rejection", zap.String("order_id", rec.OrderID))
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "reservation.release", trace.WithAttributes(attribute.String("order.id", rec.OrderID)))
	defer span.End()

	changed, err := e.res.Release(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("release order %s: %w", rec.OrderID, err)
	}
	e.logger.Info("reservation released", zap.String("order_id", rec.OrderID), zap.Bool("changed", changed))
	return nil
}
