package app

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/deadletter"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reconcile"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
)

// Consumer is one subscription of a service.
type Consumer struct {
	Topic   string
	Group   string
	Handler events.HandlerFunc
}

// Deps is what every consumer needs regardless of its service.
type Deps struct {
	Bus    events.Bus
	Logger *zap.Logger
	Tracer trace.Tracer
	Retry  deadletter.Policy

	// OnOutcome observes every message leaving the retry fabric.
	OnOutcome func(deadletter.Outcome)
}

// consumer registers h behind the standard middleware stack: tracing and
// logging outermost, then the retry fabric, then panic recovery so a panic
// is dead-lettered like any fatal error.
func (d Deps) consumer(topic, group string, h events.HandlerFunc) Consumer {
	fabric := deadletter.New(d.Bus, d.Retry, d.Logger.With(zap.String("consumer", group)))
	fabric.OnOutcome = d.OnOutcome

	return Consumer{
		Topic: topic,
		Group: group,
		Handler: events.Chain(h,
			events.WithTracing(d.Tracer, group),
			events.WithLogging(d.Logger, group),
			fabric.Wrap,
			events.WithRecover(d.Logger),
		),
	}
}

// EngineConsumers subscribes a reservation engine to the orders topic.
func EngineConsumers(d Deps, service string, res reservation.Resource, outcomeTopic string) []Consumer {
	engine := reservation.NewEngine(res, d.Bus, outcomeTopic, d.Logger, d.Tracer)
	return []Consumer{
		d.consumer(events.TopicOrders, service, engine.Handle),
	}
}

// OrderConsumers subscribes the reconciliation topology to both outcome
// topics and the view to the orders topic.
func OrderConsumers(d Deps, service string, top *reconcile.Topology) []Consumer {
	return []Consumer{
		d.consumer(reconcile.SideInventory.Topic(), service+"-join", top.Handler(reconcile.SideInventory)),
		d.consumer(reconcile.SidePayment.Topic(), service+"-join", top.Handler(reconcile.SidePayment)),
		d.consumer(events.TopicOrders, service+"-view", top.HandleOrder),
	}
}

// Run consumes every subscription and runs the background loops until ctx
// is done or one of them fails.
func Run(ctx context.Context, sub events.Subscriber, consumers []Consumer, loops ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error {
			if err := sub.Subscribe(gctx, c.Topic, c.Group, c.Handler); err != nil {
				return fmt.Errorf("consume %s as %s: %w", c.Topic, c.Group, err)
			}
			return nil
		})
	}
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}
	return g.Wait()
}
