package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

type MemoryRepository struct {
	mu        sync.Mutex
	customers map[int64]Customer
	markers   map[string]dedup.Marker
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		customers: make(map[int64]Customer),
		markers:   make(map[string]dedup.Marker),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, customerID int64) (Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[customerID]
	if !ok {
		return Customer{}, ErrUnknownCustomer
	}
	return c, nil
}

func (r *MemoryRepository) Deposit(ctx context.Context, customerID int64, amount order.Money) (Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.customers[customerID]
	if !ok {
		c = Customer{ID: customerID}
	}
	if _, ok := (c.AmountAvailable + c.AmountReserved).Plus(amount); !ok {
		return Customer{}, fmt.Errorf("%w: deposit for customer %d out of range", apperr.ErrMalformed, customerID)
	}
	c.AmountAvailable += amount
	c.Version++
	r.customers[customerID] = c
	return c, nil
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

	if cu := c.Customer; cu != nil {
		cur, ok := r.customers[cu.ID]
		if !ok || cur.Version != cu.Version {
			return fmt.Errorf("customer %d@%d: %w", cu.ID, cu.Version, ErrVersionConflict)
		}
	}
	cur, exists := r.markers[c.Marker.OrderID]
	switch {
	case c.From == "" && exists:
		return fmt.Errorf("marker %s exists: %w", c.Marker.OrderID, ErrVersionConflict)
	case c.From != "" && (!exists || cur.State != c.From):
		return fmt.Errorf("marker %s not %s: %w", c.Marker.OrderID, c.From, ErrVersionConflict)
	}

	if cu := c.Customer; cu != nil {
		next := *cu
		next.Version++
		r.customers[next.ID] = next
	}
	m := c.Marker
	if exists && m.Payload == nil {
		m.Payload = cur.Payload
	}
	r.markers[m.OrderID] = m
	return nil
}
