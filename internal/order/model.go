package order

import (
	"fmt"
	"math"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// MaxQuantity bounds the quantity of one product within an order, after
// lines with the same product code are summed. Stock columns are 32-bit.
const MaxQuantity = math.MaxInt32

type Item struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
}

// Total is UnitPrice * Quantity. Validate guarantees it does not overflow.
func (it Item) Total() Money {
	return it.UnitPrice * Money(it.Quantity)
}

// Record is the event carried on every saga channel. Records are never
// mutated; a status change is a new Record with the same OrderID.
type Record struct {
	OrderID    string `json:"orderId"`
	CustomerID int64  `json:"customerId"`
	Status     Status `json:"status"`
	Source     Source `json:"source,omitempty"`
	Items      []Item `json:"items"`
}

// Key is the partition and join key.
func (r Record) Key() []byte {
	return []byte(r.OrderID)
}

// Total is derived from the items and never stored.
func (r Record) Total() Money {
	var sum Money
	for _, it := range r.Items {
		sum += it.Total()
	}
	return sum
}

// WithStatus returns a copy of r carrying the new status and source.
func (r Record) WithStatus(status Status, source Source) Record {
	out := r
	out.Status = status
	out.Source = source
	out.Items = append([]Item(nil), r.Items...)
	return out
}

// Validate checks the structural invariants every consumer relies on.
func (r Record) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: missing orderId", apperr.ErrMalformed)
	}
	if r.CustomerID <= 0 {
		return fmt.Errorf("%w: order %s: customerId must be positive", apperr.ErrMalformed, r.OrderID)
	}
	if r.Status.Stage() < 0 {
		return fmt.Errorf("%w: order %s: missing status", apperr.ErrMalformed, r.OrderID)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: order %s: no items", apperr.ErrMalformed, r.OrderID)
	}
	perCode := make(map[string]int, len(r.Items))
	var total Money
	for i, it := range r.Items {
		if it.ProductCode == "" {
			return fmt.Errorf("%w: order %s: item %d: missing productCode", apperr.ErrMalformed, r.OrderID, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: order %s: item %d: quantity must be positive", apperr.ErrMalformed, r.OrderID, i)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("%w: order %s: item %d: negative unitPrice", apperr.ErrMalformed, r.OrderID, i)
		}
		if it.Quantity > MaxQuantity-perCode[it.ProductCode] {
			return fmt.Errorf("%w: order %s: product %s: quantity exceeds %d", apperr.ErrMalformed, r.OrderID, it.ProductCode, MaxQuantity)
		}
		perCode[it.ProductCode] += it.Quantity

		line, ok := it.UnitPrice.Times(it.Quantity)
		if ok {
			total, ok = total.Plus(line)
		}
		if !ok {
			return fmt.Errorf("%w: order %s: item %d: total out of range", apperr.ErrMalformed, r.OrderID, i)
		}
	}
	return nil
}
