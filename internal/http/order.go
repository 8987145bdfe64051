package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reconcile"
)

// OrderHandler places orders on the bus and serves the materialized view.
type OrderHandler struct {
	view   reconcile.ViewStore
	pub    events.Publisher
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewOrderHandler(view reconcile.ViewStore, pub events.Publisher, window time.Duration, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{view: view, pub: pub, window: window, logger: logger, now: time.Now}
}

type createOrderRequest struct {
	OrderID    string       `json:"orderId"`
	CustomerID int64        `json:"customerId"`
	Items      []order.Item `json:"items"`
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad request")
		return
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}

	rec := order.Record{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Status:     order.StatusNew,
		Items:      req.Items,
	}
	msg, err := events.RecordMessage(events.TopicOrders, rec)
	if err != nil {
		if errors.Is(err, apperr.ErrMalformed) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.pub.Publish(r.Context(), msg); err != nil {
		h.logger.Error("publish new order", zap.String("order_id", rec.OrderID), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "order not accepted")
		return
	}

	h.logger.Info("order placed",
		zap.String("order_id", rec.OrderID),
		zap.Int64("customer_id", rec.CustomerID),
		zap.Stringer("total", rec.Total()),
	)
	writeJSON(w, http.StatusAccepted, rec)
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderId")
	e, ok, err := h.view.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("get order", zap.String("order_id", id), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.view.List(r.Context())
	if err != nil {
		h.logger.Error("list orders", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []reconcile.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Stuck lists orders still NEW after the join window.
func (h *OrderHandler) Stuck(w http.ResponseWriter, r *http.Request) {
	entries, err := h.view.List(r.Context())
	if err != nil {
		h.logger.Error("list orders", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	stuck := reconcile.Stuck(entries, h.window, h.now())
	if stuck == nil {
		stuck = []reconcile.Entry{}
	}
	writeJSON(w, http.StatusOK, stuck)
}
