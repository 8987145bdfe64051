//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/app"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reconcile"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/testutil"
)

func sagaConfig(service string, brokers []string, dsn, redisAddr string) *config.Config {
	return &config.Config{
		Service:          service,
		Transport:        config.TransportKafka,
		KafkaBrokers:     brokers,
		PartitionWorkers: 16,
		Store:            config.StorePostgres,
		DatabaseDSN:      dsn,
		RunMigrations:    true,
		RedisAddr:        redisAddr,
		JoinWindow:       10 * time.Second,
		SweepInterval:    time.Second,
		Retry: config.Retry{
			InitialInterval: 50 * time.Millisecond,
			Multiplier:      2,
			MaxInterval:     time.Second,
			MaxAttempts:     4,
		},
		ConflictMaxRetries: 8,
	}
}

func TestSagaOverKafkaPostgresRedis(t *testing.T) {
	brokers := testutil.StartKafka(t)
	dsn := testutil.StartPostgres(t)
	redisAddr := testutil.StartRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var (
		wg   sync.WaitGroup
		view reconcile.ViewStore
		inv  *inventory.Service
		pay  *payment.Service
		bus  events.Bus
	)
	start := func(c *app.Container, consumers []app.Consumer, loops ...func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, app.Run(ctx, c.Bus, consumers, loops...))
		}()
	}

	invC, err := app.NewContainer(ctx, sagaConfig(config.InventoryService, brokers, dsn, ""))
	require.NoError(t, err)
	inv = invC.InventoryService()
	start(invC, invC.InventoryConsumers(inv))

	payC, err := app.NewContainer(ctx, sagaConfig(config.PaymentService, brokers, dsn, ""))
	require.NoError(t, err)
	pay = payC.PaymentService()
	start(payC, payC.PaymentConsumers(pay))

	orderC, err := app.NewContainer(ctx, sagaConfig(config.OrderService, brokers, dsn, redisAddr))
	require.NoError(t, err)
	joins, v := orderC.Stores()
	require.IsType(t, &reconcile.RedisJoinStore{}, joins)
	view = v
	top := orderC.Topology(joins, view)
	start(orderC, orderC.OrderConsumers(top), top.RunExpiry)
	bus = orderC.Bus

	defer func() {
		cancel()
		wg.Wait()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		for _, c := range []*app.Container{orderC, payC, invC} {
			c.Shutdown(shutdownCtx)
		}
	}()

	require.NoError(t, inv.SetAvailable(ctx, "P1", 1000))
	_, err = pay.Deposit(ctx, 1, 100000)
	require.NoError(t, err)

	place := func(rec order.Record) {
		msg, err := events.RecordMessage(events.TopicOrders, rec)
		require.NoError(t, err)
		require.NoError(t, bus.Publish(ctx, msg))
	}
	awaitStatus := func(id string, want order.Status) order.Record {
		var got order.Record
		require.Eventually(t, func() bool {
			e, ok, err := view.Get(ctx, id)
			if err != nil || !ok {
				return false
			}
			got = e.Record
			return got.Status == want
		}, 90*time.Second, 100*time.Millisecond, "order %s never reached %s", id, want)
		return got
	}

	items := []order.Item{{ProductCode: "P1", Quantity: 10, UnitPrice: 1000}}
	place(order.Record{OrderID: "it-1", CustomerID: 1, Status: order.StatusNew, Items: items})
	awaitStatus("it-1", order.StatusConfirmed)

	require.Eventually(t, func() bool {
		st, err := inv.Get(ctx, "P1")
		return err == nil && st.Available == 990 && st.Reserved == 0
	}, 30*time.Second, 100*time.Millisecond)
	require.Eventually(t, func() bool {
		c, err := pay.Get(ctx, 1)
		return err == nil && c.AmountAvailable == 90000 && c.AmountReserved == 0
	}, 30*time.Second, 100*time.Millisecond)

	big := []order.Item{{ProductCode: "P1", Quantity: 5000, UnitPrice: 1}}
	place(order.Record{OrderID: "it-2", CustomerID: 1, Status: order.StatusNew, Items: big})
	got := awaitStatus("it-2", order.StatusRollback)
	assert.Equal(t, order.SourceInventory, got.Source)

	require.Eventually(t, func() bool {
		c, err := pay.Get(ctx, 1)
		return err == nil && c.AmountAvailable == 90000 && c.AmountReserved == 0
	}, 30*time.Second, 100*time.Millisecond)
}

func TestPostgresReservationsAreAtomic(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	ctx := context.Background()

	require.NoError(t, db.RunMigrations(dsn, zap.NewNop()))
	require.NoError(t, db.RunMigrations(dsn, zap.NewNop()), "migrations are idempotent")

	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	svc := inventory.NewService(inventory.NewPostgresRepository(pool), reservation.DefaultConflictPolicy(), zap.NewNop())
	require.NoError(t, svc.SetAvailable(ctx, "P1", 5))

	const orders = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := order.Record{
				OrderID:    "pg-" + string(rune('a'+i)),
				CustomerID: 1,
				Status:     order.StatusNew,
				Items:      []order.Item{{ProductCode: "P1", Quantity: 1, UnitPrice: 1}},
			}
			d, err := svc.Reserve(ctx, rec)
			if !assert.NoError(t, err) {
				return
			}
			if d.Status == order.StatusAccept {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	st, err := svc.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Available)
	assert.Equal(t, 5, st.Reserved)
}

func TestRabbitBusRoundTrip(t *testing.T) {
	url := testutil.StartRabbitMQ(t)

	bus, err := events.NewRabbitBus(events.RabbitConfig{URL: url, Producer: "test"}, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan events.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- bus.Subscribe(ctx, events.TopicOrders, "rabbit-test", func(ctx context.Context, msg events.Message) error {
			select {
			case got <- msg:
			default:
			}
			return nil
		})
	}()

	rec := order.Record{OrderID: "r-1", CustomerID: 1, Status: order.StatusNew, Items: []order.Item{{ProductCode: "P1", Quantity: 1, UnitPrice: 1}}}
	msg, err := events.RecordMessage(events.TopicOrders, rec)
	require.NoError(t, err)

	// The queue is declared by Subscribe; publish until it is bound.
	var received events.Message
	require.Eventually(t, func() bool {
		require.NoError(t, bus.Publish(ctx, msg))
		select {
		case received = <-got:
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 30*time.Second, 10*time.Millisecond)

	assert.Equal(t, []byte("r-1"), received.Key)
	assert.Equal(t, "test", received.Header(events.HeaderProducer))
	decoded, err := order.Decode(received.Value)
	require.NoError(t, err)
	assert.Equal(t, rec.OrderID, decoded.OrderID)

	cancel()
	require.NoError(t, <-done)
}
