package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Topology joins inventory and payment outcomes per order id and publishes
// the resolution on the orders topic. It also feeds the order view from the
// orders topic.
type Topology struct {
	joins  JoinStore
	view   ViewStore
	pub    events.Publisher
	window time.Duration
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewTopology(joins JoinStore, view ViewStore, pub events.Publisher, window time.Duration, logger *zap.Logger, tracer trace.Tracer) *Topology {
	return &Topology{
		joins:  joins,
		view:   view,
		pub:    pub,
		window: window,
		logger: logger,
		tracer: tracer,
		now:    time.Now,
	}
}

// Handler returns the outcome handler for one side of the join.
func (t *Topology) Handler(side Side) events.HandlerFunc {
	return func(ctx context.Context, msg events.Message) error {
		return t.handleOutcome(ctx, side, msg)
	}
}

func (t *Topology) handleOutcome(ctx context.Context, side Side, msg events.Message) error {
	rec, err := order.Decode(msg.Value)
	if err != nil {
		return err
	}
	if !rec.Status.Outcome() {
		return fmt.Errorf("%w: order %s: %s on %s", apperr.ErrMalformed, rec.OrderID, rec.Status, msg.Topic)
	}
	if rec.Source != side.Source() {
		return fmt.Errorf("%w: order %s: source %q on %s", apperr.ErrMalformed, rec.OrderID, rec.Source, msg.Topic)
	}

	at := msg.Time
	if at.IsZero() {
		at = t.now()
	}

	ctx, span := t.tracer.Start(ctx, "reconcile.join", trace.WithAttributes(
		attribute.String("order.id", rec.OrderID),
		attribute.String("join.side", side.String()),
		attribute.String("order.status", rec.Status.String()),
	))
	defer span.End()

	other, ok, err := t.joins.Match(ctx, side, rec, at)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !ok {
		t.logger.Debug("outcome waiting for counterpart",
			zap.String("order_id", rec.OrderID),
			zap.Stringer("side", side),
		)
		return nil
	}

	inv, pay := rec, other
	if side == SidePayment {
		inv, pay = other, rec
	}
	resolved := Decide(inv, pay)
	span.SetAttributes(attribute.String("order.resolved", resolved.Status.String()))

	cur, found, err := t.view.Get(ctx, rec.OrderID)
	if err != nil {
		return err
	}
	if found && cur.Record.Status.Terminal() {
		t.logger.Info("dropping join result for resolved order",
			zap.String("order_id", rec.OrderID),
			zap.Stringer("current", cur.Record.Status),
			zap.Stringer("joined", resolved.Status),
		)
		return t.joins.Complete(ctx, rec.OrderID)
	}

	out, err := events.RecordMessage(events.TopicOrders, resolved)
	if err != nil {
		return err
	}
	events.InjectHeaders(ctx, out.Headers)
	if err := t.pub.Publish(ctx, out); err != nil {
		return fmt.Errorf("publish resolution for order %s: %w", rec.OrderID, err)
	}
	if err := t.joins.Complete(ctx, rec.OrderID); err != nil {
		return err
	}

	t.logger.Info("order resolved",
		zap.String("order_id", rec.OrderID),
		zap.Stringer("status", resolved.Status),
		zap.Stringer("source", resolved.Source),
		zap.Stringer("inventory", inv.Status),
		zap.Stringer("payment", pay.Status),
	)
	return nil
}

// HandleOrder materializes records from the orders topic into the view.
func (t *Topology) HandleOrder(ctx context.Context, msg events.Message) error {
	rec, err := order.Decode(msg.Value)
	if err != nil {
		return err
	}
	at := msg.Time
	if at.IsZero() {
		at = t.now()
	}

	_, applied, err := t.view.Apply(ctx, rec, at)
	if err != nil {
		return err
	}
	if !applied {
		t.logger.Debug("stale view update ignored",
			zap.String("order_id", rec.OrderID),
			zap.Stringer("status", rec.Status),
		)
	}
	return nil
}

// RunExpiry drops unmatched outcomes older than the join window until ctx
// is done.
func (t *Topology) RunExpiry(ctx context.Context) error {
	interval := t.window / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := t.joins.Expire(ctx, t.now())
			if err != nil {
				t.logger.Warn("join expiry failed", zap.Error(err))
				continue
			}
			if n > 0 {
				t.logger.Info("expired unmatched outcomes", zap.Int("count", n))
			}
		}
	}
}
