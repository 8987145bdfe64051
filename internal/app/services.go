package app

import (
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reconcile"
)

func (c *Container) InventoryService() *inventory.Service {
	var repo inventory.Repository = inventory.NewMemoryRepository()
	if c.Pool != nil {
		repo = inventory.NewPostgresRepository(c.Pool)
	}
	return inventory.NewService(repo, ConflictPolicy(c.Config), c.Logger)
}

func (c *Container) PaymentService() *payment.Service {
	var repo payment.Repository = payment.NewMemoryRepository()
	if c.Pool != nil {
		repo = payment.NewPostgresRepository(c.Pool)
	}
	return payment.NewService(repo, ConflictPolicy(c.Config), c.Logger)
}

// Stores returns the join and view stores: Redis-backed when REDIS_ADDR is
// set, in-process otherwise.
func (c *Container) Stores() (reconcile.JoinStore, reconcile.ViewStore) {
	if c.Redis != nil {
		return reconcile.NewRedisJoinStore(c.Redis, c.Config.JoinWindow), reconcile.NewRedisViewStore(c.Redis)
	}
	return reconcile.NewMemoryJoinStore(c.Config.JoinWindow), reconcile.NewMemoryViewStore()
}

func (c *Container) Topology(joins reconcile.JoinStore, view reconcile.ViewStore) *reconcile.Topology {
	return reconcile.NewTopology(joins, view, c.Bus, c.Config.JoinWindow, c.Logger, c.Tracer)
}

func (c *Container) Sweeper(view reconcile.ViewStore) *reconcile.Sweeper {
	return reconcile.NewSweeper(view, c.Bus, c.Config.StuckOrderTimeout, c.Config.SweepInterval, c.Logger)
}

func (c *Container) InventoryConsumers(svc *inventory.Service) []Consumer {
	return EngineConsumers(c.Deps(), c.Config.Service, svc, events.TopicInventoryOutcomes)
}

func (c *Container) PaymentConsumers(svc *payment.Service) []Consumer {
	return EngineConsumers(c.Deps(), c.Config.Service, svc, events.TopicPaymentOutcomes)
}

func (c *Container) OrderConsumers(top *reconcile.Topology) []Consumer {
	return OrderConsumers(c.Deps(), c.Config.Service, top)
}
