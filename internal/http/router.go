package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func newBaseRouter(logger *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationID)
	r.Use(Logging(logger))
	r.Use(Recover(logger))

	r.Get("/health", Health)
	return r
}

func NewOrderRouter(h *OrderHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(logger)
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/stuck", h.Stuck)
		r.Get("/{orderId}", h.Get)
	})
	return r
}

func NewInventoryRouter(h *InventoryHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(logger)
	r.Route("/api/inventory", func(r chi.Router) {
		r.Get("/{productCode}", h.GetAvailability)
		r.Post("/adjust", h.AdjustAvailability)
	})
	return r
}

func NewPaymentRouter(h *PaymentHandler, logger *zap.Logger) http.Handler {
	r := newBaseRouter(logger)
	r.Route("/api/customers", func(r chi.Router) {
		r.Get("/{customerId}", h.GetCustomer)
		r.Post("/deposit", h.Deposit)
	})
	return r
}
