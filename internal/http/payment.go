package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/payment"
)

type LedgerService interface {
	Get(ctx context.Context, customerID int64) (payment.Customer, error)
	Deposit(ctx context.Context, customerID int64, amount order.Money) (payment.Customer, error)
}

type PaymentHandler struct {
	ledger LedgerService
	logger *zap.Logger
}

func NewPaymentHandler(ledger LedgerService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{ledger: ledger, logger: logger}
}

func (h *PaymentHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "customerId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid customerId")
		return
	}

	c, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrUnknownCustomer) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("get customer", zap.Int64("customer_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type depositRequest struct {
	CustomerID int64       `json:"customerId"`
	Amount     order.Money `json:"amount"`
}

func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad request")
		return
	}

	c, err := h.ledger.Deposit(r.Context(), req.CustomerID, req.Amount)
	if err != nil {
		if errors.Is(err, apperr.ErrMalformed) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("deposit", zap.Int64("customer_id", req.CustomerID), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, c)
}
