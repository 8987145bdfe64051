package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

var (
	ErrUnknownCustomer = errors.New("unknown customer")
	ErrVersionConflict = errors.New("ledger version conflict")
)

const markerConsumer = "payment"

type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Change is one atomic save of a ledger row and the order's marker.
// Customer is nil when only the marker is written.
type Change struct {
	Customer *Customer
	Marker   dedup.Marker
	From     dedup.State
}

type Repository interface {
	Get(ctx context.Context, customerID int64) (Customer, error)
	Deposit(ctx context.Context, customerID int64, amount order.Money) (Customer, error)
	Marker(ctx context.Context, orderID string) (dedup.Marker, bool, error)
	Apply(ctx context.Context, c Change) error
}

type PostgresRepository struct {
	pool    DBPool
	markers *dedup.Repository
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, markers: dedup.NewRepository(pool, markerConsumer)}
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var (
		c                  Customer
		available, reserve int64
	)
	if err := row.Scan(&c.ID, &available, &reserve, &c.Version); err != nil {
		return Customer{}, err
	}
	c.AmountAvailable = order.Money(available)
	c.AmountReserved = order.Money(reserve)
	return c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, customerID int64) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `
		SELECT customer_id, amount_available, amount_reserved, version
		FROM customers
		WHERE customer_id=$1
	`, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrUnknownCustomer
		}
		return Customer{}, fmt.Errorf("select customer %d: %w", customerID, err)
	}
	return c, nil
}

// Deposit credits amount to the customer's free balance, creating the
// customer on first deposit.
func (r *PostgresRepository) Deposit(ctx context.Context, customerID int64, amount order.Money) (Customer, error) {
	c, err := scanCustomer(r.pool.QueryRow(ctx, `
		INSERT INTO customers(customer_id, amount_available)
		VALUES($1, $2)
		ON CONFLICT (customer_id) DO UPDATE
		SET amount_available=customers.amount_available+EXCLUDED.amount_available, version=customers.version+1, updated_at=now()
		RETURNING customer_id, amount_available, amount_reserved, version
	`, customerID, int64(amount)))
	if err != nil {
		return Customer{}, fmt.Errorf("deposit for customer %d: %w", customerID, err)
	}
	return c, nil
}

func (r *PostgresRepository) Marker(ctx context.Context, orderID string) (dedup.Marker, bool, error) {
	return r.markers.Get(ctx, orderID)
}

func (r *PostgresRepository) Apply(ctx context.Context, c Change) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if cu := c.Customer; cu != nil {
		tag, err := tx.Exec(ctx, `
			UPDATE customers
			SET amount_available=$2, amount_reserved=$3, version=version+1, updated_at=now()
			WHERE customer_id=$1 AND version=$4
		`, cu.ID, int64(cu.AmountAvailable), int64(cu.AmountReserved), cu.Version)
		if err != nil {
			return fmt.Errorf("update customer %d: %w", cu.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("customer %d@%d: %w", cu.ID, cu.Version, ErrVersionConflict)
		}
	}

	markers := r.markers.WithExecutor(tx)
	if c.From == "" {
		err = markers.Insert(ctx, c.Marker)
	} else {
		err = markers.Transition(ctx, c.Marker.OrderID, c.From, c.Marker.State)
	}
	if errors.Is(err, dedup.ErrStale) {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger change: %w", err)
	}
	return nil
}
