package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Sweeper rolls back orders that stayed NEW longer than timeout, which
// happens when one engine never answers. The rollback is unattributed so
// both engines reconcile it against their own markers.
type Sweeper struct {
	view     ViewStore
	pub      events.Publisher
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	swept map[string]struct{}
}

func NewSweeper(view ViewStore, pub events.Publisher, timeout, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		view:     view,
		pub:      pub,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		swept:    make(map[string]struct{}),
	}
}

// Enabled is false when no timeout is configured.
func (s *Sweeper) Enabled() bool { return s.timeout > 0 }

func (s *Sweeper) Run(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	interval := s.interval
	if interval <= 0 {
		interval = s.timeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Warn("stuck order sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep publishes a rollback for each stuck order once and returns how many
// it published.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	entries, err := s.view.List(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetResolved(entries)

	n := 0
	for _, e := range Stuck(entries, s.timeout, s.now()) {
		id := e.Record.OrderID
		if _, done := s.swept[id]; done {
			continue
		}
		msg, err := events.RecordMessage(events.TopicOrders, e.Record.WithStatus(order.StatusRollback, order.SourceNone))
		if err != nil {
			return n, err
		}
		if err := s.pub.Publish(ctx, msg); err != nil {
			return n, fmt.Errorf("publish rollback for stuck order %s: %w", id, err)
		}
		s.swept[id] = struct{}{}
		n++
		s.logger.Warn("rolled back stuck order",
			zap.String("order_id", id),
			zap.Time("first_seen", e.FirstSeen),
		)
	}
	return n, nil
}

// forgetResolved drops swept ids the view no longer holds as NEW, once the
// rollback has been materialized.
func (s *Sweeper) forgetResolved(entries []Entry) {
	if len(s.swept) == 0 {
		return
	}
	pending := make(map[string]struct{}, len(s.swept))
	for _, e := range entries {
		if _, ok := s.swept[e.Record.OrderID]; ok && e.Record.Status == order.StatusNew {
			pending[e.Record.OrderID] = struct{}{}
		}
	}
	s.swept = pending
}
