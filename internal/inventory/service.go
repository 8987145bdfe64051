package inventory

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
)

// Service reserves stock for orders. All-or-nothing per order: when any
// product is short or unknown the order is rejected and no stock moves.
// Idempotency is keyed by orderID through the marker saved with each change.
type Service struct {
	repo   Repository
	policy reservation.ConflictPolicy
	logger *zap.Logger
}

func NewService(repo Repository, policy reservation.ConflictPolicy, logger *zap.Logger) *Service {
	return &Service{repo: repo, policy: policy, logger: logger}
}

func (s *Service) Source() order.Source { return order.SourceInventory }

func (s *Service) Reserve(ctx context.Context, rec order.Record) (reservation.Decision, error) {
	if err := rec.Validate(); err != nil {
		return reservation.Decision{}, err
	}
	lines := MergeLines(rec.Items)
	payload, err := json.Marshal(lines)
	if err != nil {
		return reservation.Decision{}, fmt.Errorf("marshal lines: %w", err)
	}

	var d reservation.Decision
	err = s.policy.Do(ctx, ErrVersionConflict, func() error {
		m, ok, err := s.repo.Marker(ctx, rec.OrderID)
		if err != nil {
			return err
		}
		if ok {
			d = reservation.Decision{Status: m.State.Decision(), Replayed: true}
			return nil
		}

		stocks, err := s.repo.Load(ctx, productCodes(lines))
		if err != nil {
			return err
		}

		updated, short := reserveLines(stocks, lines)
		if short != "" {
			s.logger.Info("insufficient stock",
				zap.String("order_id", rec.OrderID),
				zap.String("product_code", short),
			)
			d = reservation.Decision{Status: order.StatusReject}
			return s.repo.Apply(ctx, Change{
				Marker: dedup.Marker{OrderID: rec.OrderID, State: dedup.StateRejected},
			})
		}

		d = reservation.Decision{Status: order.StatusAccept}
		return s.repo.Apply(ctx, Change{
			Stocks: updated,
			Marker: dedup.Marker{OrderID: rec.OrderID, State: dedup.StateReserved, Payload: payload},
		})
	})
	if err != nil {
		return reservation.Decision{}, err
	}
	return d, nil
}

// reserveLines returns the new stock values, or the first product code that
// cannot cover its line.
func reserveLines(stocks map[string]Stock, lines []Line) ([]Stock, string) {
	out := make([]Stock, 0, len(lines))
	for _, l := range lines {
		st, ok := stocks[l.ProductCode]
		if !ok || st.Available < l.Quantity {
			return nil, l.ProductCode
		}
		st.Available -= l.Quantity
		st.Reserved += l.Quantity
		out = append(out, st)
	}
	return out, ""
}

func (s *Service) Confirm(ctx context.Context, rec order.Record) (bool, error) {
	return s.finish(ctx, rec.OrderID, dedup.StateConfirmed, func(st *Stock, qty int) {
		st.Reserved -= qty
	})
}

func (s *Service) Release(ctx context.Context, rec order.Record) (bool, error) {
	return s.finish(ctx, rec.OrderID, dedup.StateReleased, func(st *Stock, qty int) {
		st.Reserved -= qty
		st.Available += qty
	})
}

// finish moves a RESERVED order to the target state, applying apply to
// each reserved line. A release for an order never seen leaves a VOIDED
// marker so a NEW arriving late is rejected.
func (s *Service) finish(ctx context.Context, orderID string, target dedup.State, apply func(*Stock, int)) (bool, error) {
	changed := false
	err := s.policy.Do(ctx, ErrVersionConflict, func() error {
		changed = false
		m, ok, err := s.repo.Marker(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			if target != dedup.StateReleased {
				return nil
			}
			changed = true
			return s.repo.Apply(ctx, Change{Marker: dedup.Marker{OrderID: orderID, State: dedup.StateVoided}})
		}
		if m.State != dedup.StateReserved {
			return nil
		}

		var lines []Line
		if err := json.Unmarshal(m.Payload, &lines); err != nil {
			return apperr.Fatal(fmt.Errorf("order %s: corrupt marker payload: %w", orderID, err))
		}
		stocks, err := s.repo.Load(ctx, productCodes(lines))
		if err != nil {
			return err
		}

		updated := make([]Stock, 0, len(lines))
		for _, l := range lines {
			st, ok := stocks[l.ProductCode]
			if !ok {
				return apperr.Fatal(fmt.Errorf("order %s: product %s: %w", orderID, l.ProductCode, ErrNotFound))
			}
			if st.Reserved < l.Quantity {
				return apperr.Fatal(fmt.Errorf("order %s: product %s has %d reserved, need %d", orderID, l.ProductCode, st.Reserved, l.Quantity))
			}
			apply(&st, l.Quantity)
			updated = append(updated, st)
		}

		changed = true
		return s.repo.Apply(ctx, Change{
			Stocks: updated,
			Marker: dedup.Marker{OrderID: orderID, State: target},
			From:   dedup.StateReserved,
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *Service) Get(ctx context.Context, productCode string) (Stock, error) {
	return s.repo.Get(ctx, productCode)
}

// SetAvailable overwrites the free quantity of a product, creating it if
// needed. Reserved quantities are untouched.
func (s *Service) SetAvailable(ctx context.Context, productCode string, available int) error {
	if productCode == "" || available < 0 || available > order.MaxQuantity {
		return fmt.Errorf("%w: productCode required and available must be within 0..%d", apperr.ErrMalformed, order.MaxQuantity)
	}
	if err := s.repo.SetAvailable(ctx, productCode, available); err != nil {
		return fmt.Errorf("set available %s: %w", productCode, err)
	}
	return nil
}

var _ reservation.Resource = (*Service)(nil)
