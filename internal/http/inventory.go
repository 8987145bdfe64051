package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/inventory"
)

type StockService interface {
	Get(ctx context.Context, productCode string) (inventory.Stock, error)
	SetAvailable(ctx context.Context, productCode string, available int) error
}

type InventoryHandler struct {
	stock  StockService
	logger *zap.Logger
}

func NewInventoryHandler(stock StockService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{stock: stock, logger: logger}
}

func (h *InventoryHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "productCode")
	item, err := h.stock.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		h.logger.Error("get stock", zap.String("product_code", code), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type adjustRequest struct {
	ProductCode string `json:"productCode"`
	Available   int    `json:"available"`
}

func (h *InventoryHandler) AdjustAvailability(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad request")
		return
	}

	if err := h.stock.SetAvailable(r.Context(), req.ProductCode, req.Available); err != nil {
		if errors.Is(err, apperr.ErrMalformed) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("adjust stock", zap.String("product_code", req.ProductCode), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
