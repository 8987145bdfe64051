package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
)

// MemoryRepository keeps stock and markers in process. Apply has the same
// compare-and-swap semantics as the Postgres repository.
type MemoryRepository struct {
	mu      sync.Mutex
	stocks  map[string]Stock
	markers map[string]dedup.Marker
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stocks:  make(map[string]Stock),
		markers: make(map[string]dedup.Marker),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, productCode string) (Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stocks[productCode]
	if !ok {
		return Stock{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) Load(ctx context.Context, productCodes []string) (map[string]Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stock, len(productCodes))
	for _, code := range productCodes {
		if s, ok := r.stocks[code]; ok {
			out[code] = s
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetAvailable(ctx context.Context, productCode string, available int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stocks[productCode]
	if !ok {
		s = Stock{ProductCode: productCode}
	}
	s.Available = available
	s.Version++
	r.stocks[productCode] = s
	return nil
}

func (r *MemoryRepository) Marker(ctx context.Context, orderID string) (dedup.Marker, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markers[orderID]
	return m, ok, nil
}

func (r *MemoryRepository) Apply(ctx context.Context, c Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range c.Stocks {
		cur, ok := r.stocks[s.ProductCode]
		if !ok || cur.Version != s.Version {
			return fmt.Errorf("stock %s@%d: %w", s.ProductCode, s.Version, ErrVersionConflict)
		}
	}
	cur, exists := r.markers[c.Marker.OrderID]
	switch {
	case c.From == "" && exists:
		return fmt.Errorf("marker %s exists: %w", c.Marker.OrderID, ErrVersionConflict)
	case c.From != "" && (!exists || cur.State != c.From):
		return fmt.Errorf("marker %s not %s: %w", c.Marker.OrderID, c.From, ErrVersionConflict)
	}

	for _, s := range c.Stocks {
		s.Version++
		r.stocks[s.ProductCode] = s
	}
	m := c.Marker
	if exists && m.Payload == nil {
		m.Payload = cur.Payload
	}
	r.markers[m.OrderID] = m
	return nil
}
