package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/reservation"
)

// Service holds order totals against customer balances.
type Service struct {
	repo   Repository
	policy reservation.ConflictPolicy
	logger *zap.Logger
}

func NewService(repo Repository, policy reservation.ConflictPolicy, logger *zap.Logger) *Service {
	return &Service{repo: repo, policy: policy, logger: logger}
}

func (s *Service) Source() order.Source { return order.SourcePayment }

func (s *Service) Reserve(ctx context.Context, rec order.Record) (reservation.Decision, error) {
	if err := rec.Validate(); err != nil {
		return reservation.Decision{}, err
	}
	amount := rec.Total()
	payload, err := json.Marshal(hold{CustomerID: rec.CustomerID, Amount: amount})
	if err != nil {
		return reservation.Decision{}, fmt.Errorf("marshal hold: %w", err)
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

		c, err := s.repo.Get(ctx, rec.CustomerID)
		if errors.Is(err, ErrUnknownCustomer) {
			return apperr.Fatal(fmt.Errorf("order %s: customer %d: %w", rec.OrderID, rec.CustomerID, err))
		}
		if err != nil {
			return err
		}

		if c.AmountAvailable < amount {
			s.logger.Info("insufficient funds",
				zap.String("order_id", rec.OrderID),
				zap.Int64("customer_id", c.ID),
				zap.Stringer("available", c.AmountAvailable),
				zap.Stringer("required", amount),
			)
			d = reservation.Decision{Status: order.StatusReject}
			return s.repo.Apply(ctx, Change{
				Marker: dedup.Marker{OrderID: rec.OrderID, State: dedup.StateRejected},
			})
		}

		c.AmountAvailable -= amount
		c.AmountReserved += amount
		d = reservation.Decision{Status: order.StatusAccept}
		return s.repo.Apply(ctx, Change{
			Customer: &c,
			Marker:   dedup.Marker{OrderID: rec.OrderID, State: dedup.StateReserved, Payload: payload},
		})
	})
	if err != nil {
		return reservation.Decision{}, err
	}
	return d, nil
}

func (s *Service) Confirm(ctx context.Context, rec order.Record) (bool, error) {
	return s.finish(ctx, rec.OrderID, dedup.StateConfirmed, func(c *Customer, amount order.Money) {
		c.AmountReserved -= amount
	})
}

func (s *Service) Release(ctx context.Context, rec order.Record) (bool, error) {
	return s.finish(ctx, rec.OrderID, dedup.StateReleased, func(c *Customer, amount order.Money) {
		c.AmountReserved -= amount
		c.AmountAvailable += amount
	})
}

func (s *Service) finish(ctx context.Context, orderID string, target dedup.State, apply func(*Customer, order.Money)) (bool, error) {
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

		var h hold
		if err := json.Unmarshal(m.Payload, &h); err != nil {
			return apperr.Fatal(fmt.Errorf("order %s: corrupt marker payload: %w", orderID, err))
		}
		c, err := s.repo.Get(ctx, h.CustomerID)
		if errors.Is(err, ErrUnknownCustomer) {
			return apperr.Fatal(fmt.Errorf("order %s: customer %d: %w", orderID, h.CustomerID, err))
		}
		if err != nil {
			return err
		}
		if c.AmountReserved < h.Amount {
			return apperr.Fatal(fmt.Errorf("order %s: customer %d has %s reserved, need %s", orderID, c.ID, c.AmountReserved, h.Amount))
		}

		apply(&c, h.Amount)
		changed = true
		return s.repo.Apply(ctx, Change{
			Customer: &c,
			Marker:   dedup.Marker{OrderID: orderID, State: target},
			From:     dedup.StateReserved,
		})
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *Service) Get(ctx context.Context, customerID int64) (Customer, error) {
	return s.repo.Get(ctx, customerID)
}

func (s *Service) Deposit(ctx context.Context, customerID int64, amount order.Money) (Customer, error) {
	if customerID <= 0 || amount <= 0 {
		return Customer{}, fmt.Errorf("%w: customerId and amount must be positive", apperr.ErrMalformed)
	}
	return s.repo.Deposit(ctx, customerID, amount)
}

var _ reservation.Resource = (*Service)(nil)
