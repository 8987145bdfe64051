package payment

import "github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"

type Customer struct {
	ID              int64       `json:"customerId"`
	AmountAvailable order.Money `json:"amountAvailable"`
	AmountReserved  order.Money `json:"amountReserved"`
	Version         int64       `json:"version"`
}

// hold is the marker payload: what an order reserved.
type hold struct {
	CustomerID int64       `json:"customerId"`
	Amount     order.Money `json:"amount"`
}
