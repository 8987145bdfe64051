package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// JoinStore holds unmatched outcomes for the length of the join window.
type JoinStore interface {
	// Match looks for the other side's outcome of rec's order with an event
	// time within the window of at. Without a match rec is stored under side.
	Match(ctx context.Context, side Side, rec order.Record, at time.Time) (order.Record, bool, error)
	// Complete forgets everything held for orderID once it is resolved.
	Complete(ctx context.Context, orderID string) error
	// Expire drops outcomes that waited longer than the window.
	Expire(ctx context.Context, now time.Time) (int, error)
}

type pending struct {
	rec    order.Record
	at     time.Time
	stored time.Time
}

type MemoryJoinStore struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	sides map[string]map[Side]pending
}

func NewMemoryJoinStore(window time.Duration) *MemoryJoinStore {
	return &MemoryJoinStore{
		window: window,
		now:    time.Now,
		sides:  make(map[string]map[Side]pending),
	}
}

func (s *MemoryJoinStore) Match(ctx context.Context, side Side, rec order.Record, at time.Time) (order.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held := s.sides[rec.OrderID]
	if held == nil {
		held = make(map[Side]pending, 2)
		s.sides[rec.OrderID] = held
	}

	if other, ok := held[side.Other()]; ok {
		if withinWindow(at, other.at, s.window) {
			return other.rec, true, nil
		}
		delete(held, side.Other())
	}
	held[side] = pending{rec: rec, at: at, stored: s.now()}
	return order.Record{}, false, nil
}

func (s *MemoryJoinStore) Complete(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sides, orderID)
	return nil
}

func (s *MemoryJoinStore) Expire(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for id, held := range s.sides {
		for side, p := range held {
			if now.Sub(p.stored) > s.window {
				delete(held, side)
				dropped++
			}
		}
		if len(held) == 0 {
			delete(s.sides, id)
		}
	}
	return dropped, nil
}

// Len reports how many orders have an outcome waiting.
func (s *MemoryJoinStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sides)
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
