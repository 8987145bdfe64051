package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/deadletter"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reconcile"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type saga struct {
	bus  *events.MemoryBus
	inv  *inventory.Service
	pay  *payment.Service
	view *reconcile.MemoryViewStore

	mu       sync.Mutex
	outcomes []deadletter.Outcome
}

// startSaga runs all three services on one in-memory bus until the test ends.
func startSaga(t *testing.T, stuckAfter time.Duration) *saga {
	t.Helper()
	logger := zap.NewNop()
	s := &saga{
		bus:  events.NewMemoryBus(events.MemoryConfig{Partitions: 4}, logger),
		inv:  inventory.NewService(inventory.NewMemoryRepository(), reservation.DefaultConflictPolicy(), logger),
		pay:  payment.NewService(payment.NewMemoryRepository(), reservation.DefaultConflictPolicy(), logger),
		view: reconcile.NewMemoryViewStore(),
	}

	deps := Deps{
		Bus:    s.bus,
		Logger: logger,
		Tracer: noop.NewTracerProvider().Tracer("test"),
		Retry:  deadletter.Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond, MaxAttempts: 4},
		OnOutcome: func(o deadletter.Outcome) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.outcomes = append(s.outcomes, o)
		},
	}

	top := reconcile.NewTopology(reconcile.NewMemoryJoinStore(10*time.Second), s.view, s.bus, 10*time.Second, logger, deps.Tracer)
	sweeper := reconcile.NewSweeper(s.view, s.bus, stuckAfter, 10*time.Millisecond, logger)

	var consumers []Consumer
	consumers = append(consumers, EngineConsumers(deps, "inventory-service", s.inv, events.TopicInventoryOutcomes)...)
	consumers = append(consumers, EngineConsumers(deps, "payment-service", s.pay, events.TopicPaymentOutcomes)...)
	consumers = append(consumers, OrderConsumers(deps, "order-service", top)...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, s.bus, consumers, top.RunExpiry, sweeper.Run) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return s
}

func (s *saga) stock(t *testing.T, code string, available int) {
	t.Helper()
	require.NoError(t, s.inv.SetAvailable(context.Background(), code, available))
}

func (s *saga) funds(t *testing.T, customerID int64, amount string) {
	t.Helper()
	m, err := order.ParseMoney(amount)
	require.NoError(t, err)
	_, err = s.pay.Deposit(context.Background(), customerID, m)
	require.NoError(t, err)
}

func (s *saga) place(t *testing.T, rec order.Record) {
	t.Helper()
	msg, err := events.RecordMessage(events.TopicOrders, rec)
	require.NoError(t, err)
	require.NoError(t, s.bus.Publish(context.Background(), msg))
}

func (s *saga) awaitStatus(t *testing.T, orderID string, want order.Status) order.Record {
	t.Helper()
	var got order.Record
	require.Eventually(t, func() bool {
		e, ok, err := s.view.Get(context.Background(), orderID)
		if err != nil || !ok {
			return false
		}
		got = e.Record
		return got.Status == want
	}, waitFor, tick, "order %s never reached %s", orderID, want)
	return got
}

func (s *saga) awaitStock(t *testing.T, code string, available, reserved int) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := s.inv.Get(context.Background(), code)
		return err == nil && st.Available == available && st.Reserved == reserved
	}, waitFor, tick, "stock %s never reached %d/%d", code, available, reserved)
}

func (s *saga) awaitFunds(t *testing.T, customerID int64, available, reserved string) {
	t.Helper()
	wantAvail, err := order.ParseMoney(available)
	require.NoError(t, err)
	wantRes, err := order.ParseMoney(reserved)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c, err := s.pay.Get(context.Background(), customerID)
		return err == nil && c.AmountAvailable == wantAvail && c.AmountReserved == wantRes
	}, waitFor, tick, "customer %d never reached %s/%s", customerID, available, reserved)
}

func (s *saga) deadLettered() []deadletter.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []deadletter.Outcome
	for _, o := range s.outcomes {
		if o.State == deadletter.StateDeadLettered {
			out = append(out, o)
		}
	}
	return out
}

func newOrder(id string, customerID int64, items ...order.Item) order.Record {
	return order.Record{OrderID: id, CustomerID: customerID, Status: order.StatusNew, Items: items}
}

func item(code string, qty int, price string) order.Item {
	m, err := order.ParseMoney(price)
	if err != nil {
		panic(err)
	}
	return order.Item{ProductCode: code, Quantity: qty, UnitPrice: m}
}

func TestSaga_Confirmed(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)
	s.funds(t, 1, "1000.00")

	s.place(t, newOrder("o-1", 1, item("P1", 10, "10.00")))

	got := s.awaitStatus(t, "o-1", order.StatusConfirmed)
	assert.Equal(t, order.SourceNone, got.Source)
	s.awaitStock(t, "P1", 990, 0)
	s.awaitFunds(t, 1, "900.00", "0.00")
}

func TestSaga_PaymentRejectReleasesStock(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)
	s.funds(t, 2, "50.00")

	s.place(t, newOrder("o-2", 2, item("P1", 10, "10.00")))

	got := s.awaitStatus(t, "o-2", order.StatusRollback)
	assert.Equal(t, order.SourcePayment, got.Source)
	s.awaitStock(t, "P1", 1000, 0)
	s.awaitFunds(t, 2, "50.00", "0.00")
}

func TestSaga_InventoryRejectReleasesFunds(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 5)
	s.funds(t, 1, "1000.00")

	s.place(t, newOrder("o-3", 1, item("P1", 10, "10.00")))

	got := s.awaitStatus(t, "o-3", order.StatusRollback)
	assert.Equal(t, order.SourceInventory, got.Source)
	s.awaitFunds(t, 1, "1000.00", "0.00")
	s.awaitStock(t, "P1", 5, 0)
}

func TestSaga_BothReject(t *testing.T) {
	s := startSaga(t, 0)
	s.funds(t, 3, "1.00")

	s.place(t, newOrder("o-4", 3, item("UNKNOWN", 1, "10.00")))

	got := s.awaitStatus(t, "o-4", order.StatusRollback)
	assert.Equal(t, order.SourceNone, got.Source)
	s.awaitFunds(t, 3, "1.00", "0.00")
}

func TestSaga_DuplicateOrderReservesOnce(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)
	s.funds(t, 1, "1000.00")

	rec := newOrder("o-5", 1, item("P1", 10, "10.00"))
	msg, err := events.RecordMessage(events.TopicOrders, rec)
	require.NoError(t, err)
	require.NoError(t, s.bus.Publish(context.Background(), msg))
	require.NoError(t, s.bus.Publish(context.Background(), msg))

	s.awaitStatus(t, "o-5", order.StatusConfirmed)
	require.Eventually(t, func() bool {
		return len(s.bus.Records(events.TopicInventoryOutcomes)) == 2 &&
			len(s.bus.Records(events.TopicPaymentOutcomes)) == 2
	}, waitFor, tick)

	for _, m := range s.bus.Records(events.TopicInventoryOutcomes) {
		out, err := order.Decode(m.Value)
		require.NoError(t, err)
		assert.Equal(t, order.StatusAccept, out.Status, "a replay repeats the first decision")
	}
	s.awaitStock(t, "P1", 990, 0)
	s.awaitFunds(t, 1, "900.00", "0.00")
}

func TestSaga_PoisonMessageIsIsolated(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)
	s.funds(t, 1, "1000.00")

	poison := events.NewMessage(events.TopicOrders, []byte("o-bad"), []byte(`{"orderId":"o-bad","status":"SHIPPED"}`))
	require.NoError(t, s.bus.Publish(context.Background(), poison))
	s.place(t, newOrder("o-6", 1, item("P1", 1, "1.00")))

	s.awaitStatus(t, "o-6", order.StatusConfirmed)

	// One dead letter per consumer group of the orders topic.
	require.Eventually(t, func() bool {
		return len(s.bus.Records(events.DeadLetterTopic(events.TopicOrders))) == 3
	}, waitFor, tick)
	for _, dl := range s.bus.Records(events.DeadLetterTopic(events.TopicOrders)) {
		assert.Equal(t, []byte("o-bad"), dl.Key)
		assert.Equal(t, poison.Value, dl.Value)
		assert.Equal(t, events.TopicOrders, dl.Header(events.HeaderDLTOriginalTopic))
		assert.Equal(t, apperr.KindPoison, dl.Header(events.HeaderDLTErrorKind))
		assert.Equal(t, "1", dl.Header(events.HeaderDLTAttempts))
	}
	assert.Len(t, s.deadLettered(), 3)
}

func TestSaga_UnknownCustomerIsDeadLettered(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)

	s.place(t, newOrder("o-7", 99, item("P1", 1, "1.00")))

	require.Eventually(t, func() bool {
		return len(s.bus.Records(events.DeadLetterTopic(events.TopicOrders))) == 1
	}, waitFor, tick)
	dl := s.bus.Records(events.DeadLetterTopic(events.TopicOrders))[0]
	assert.Equal(t, apperr.KindFatal, dl.Header(events.HeaderDLTErrorKind))

	s.awaitStock(t, "P1", 999, 1)
	e, ok, err := s.view.Get(context.Background(), "o-7")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.StatusNew, e.Record.Status, "without a sweeper a one-sided order stays pending")
}

func TestSaga_SweeperRollsBackStuckOrder(t *testing.T) {
	s := startSaga(t, 100*time.Millisecond)
	s.stock(t, "P1", 1000)

	s.place(t, newOrder("o-8", 99, item("P1", 4, "1.00")))

	got := s.awaitStatus(t, "o-8", order.StatusRollback)
	assert.Equal(t, order.SourceNone, got.Source)
	s.awaitStock(t, "P1", 1000, 0)
}

func TestSaga_ConcurrentOrdersNeverOversell(t *testing.T) {
	s := startSaga(t, 0)
	s.stock(t, "P1", 1000)
	s.funds(t, 1, "100000.00")

	const orders = 20
	for i := 0; i < orders; i++ {
		s.place(t, newOrder(fmt.Sprintf("c-%02d", i), 1, item("P1", 100, "10.00")))
	}

	confirmed, rolledBack := 0, 0
	require.Eventually(t, func() bool {
		confirmed, rolledBack = 0, 0
		entries, err := s.view.List(context.Background())
		if err != nil {
			return false
		}
		for _, e := range entries {
			switch e.Record.Status {
			case order.StatusConfirmed:
				confirmed++
			case order.StatusRollback:
				rolledBack++
			}
		}
		return confirmed+rolledBack == orders
	}, waitFor, tick)

	assert.Equal(t, 10, confirmed)
	assert.Equal(t, 10, rolledBack)
	s.awaitStock(t, "P1", 0, 0)
	s.awaitFunds(t, 1, "90000.00", "0.00")
}
