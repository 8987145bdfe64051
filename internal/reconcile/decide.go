// Package reconcile joins the two reservation outcomes of an order, resolves
// the saga and keeps the materialized order view.
package reconcile

import (
	"fmt"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// Side names the outcome stream a record arrived on.
type Side uint8

const (
	SideInventory Side = iota + 1
	SidePayment
)

func (s Side) String() string {
	switch s {
	case SideInventory:
		return "INVENTORY"
	case SidePayment:
		return "PAYMENT"
	default:
		return fmt.Sprintf("Side(%d)", uint8(s))
	}
}

// Source is the engine that publishes on this side.
func (s Side) Source() order.Source {
	switch s {
	case SideInventory:
		return order.SourceInventory
	case SidePayment:
		return order.SourcePayment
	default:
		return order.SourceNone
	}
}

// Other is the opposite side of the join.
func (s Side) Other() Side {
	if s == SideInventory {
		return SidePayment
	}
	return SideInventory
}

// Topic is the outcome topic consumed for this side.
func (s Side) Topic() string {
	if s == SideInventory {
		return events.TopicInventoryOutcomes
	}
	return events.TopicPaymentOutcomes
}

// Decide resolves a joined pair of outcomes. Both accepted confirms the
// order. A single rejection rolls back attributed to the rejecting engine so
// that it skips compensation. A double rejection rolls back unattributed.
func Decide(inv, pay order.Record) order.Record {
	switch {
	case inv.Status == order.StatusAccept && pay.Status == order.StatusAccept:
		return inv.WithStatus(order.StatusConfirmed, order.SourceNone)
	case inv.Status == order.StatusReject && pay.Status == order.StatusReject:
		return inv.WithStatus(order.StatusRollback, order.SourceNone)
	case inv.Status == order.StatusReject:
		return inv.WithStatus(order.StatusRollback, order.SourceInventory)
	default:
		return inv.WithStatus(order.StatusRollback, order.SourcePayment)
	}
}
