package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/dedup"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("stock version conflict")
)

const markerConsumer = "inventory"

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Change is one atomic save: stock rows compared on Version and written
// with their new quantities, together with the order's marker.
type Change struct {
	Stocks []Stock
	Marker dedup.Marker
	// From is the marker state expected in the store. Empty means the
	// marker must not exist yet.
	From dedup.State
}

type Repository interface {
	Get(ctx context.Context, productCode string) (Stock, error)
	Load(ctx context.Context, productCodes []string) (map[string]Stock, error)
	SetAvailable(ctx context.Context, productCode string, available int) error
	Marker(ctx context.Context, orderID string) (dedup.Marker, bool, error)
	// Apply saves c or fails with ErrVersionConflict without changing anything.
	Apply(ctx context.Context, c Change) error
}

type PostgresRepository struct {
	pool    DBPool
	markers *dedup.Repository
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool, markers: dedup.NewRepository(pool, markerConsumer)}
}

func (r *PostgresRepository) Get(ctx context.Context, productCode string) (Stock, error) {
	var s Stock
	row := r.pool.QueryRow(ctx, `
		SELECT product_code, available, reserved, version
		FROM inventory_stock
		WHERE product_code=$1
	`, productCode)
	if err := row.Scan(&s.ProductCode, &s.Available, &s.Reserved, &s.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrNotFound
		}
		return Stock{}, err
	}
	return s, nil
}

func (r *PostgresRepository) Load(ctx context.Context, productCodes []string) (map[string]Stock, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_code, available, reserved, version
		FROM inventory_stock
		WHERE product_code = ANY($1)
	`, productCodes)
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Stock, len(productCodes))
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ProductCode, &s.Available, &s.Reserved, &s.Version); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		out[s.ProductCode] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SetAvailable(ctx context.Context, productCode string, available int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inventory_stock(product_code, available)
		VALUES($1, $2)
		ON CONFLICT (product_code) DO UPDATE SET available=EXCLUDED.available, version=inventory_stock.version+1, updated_at=now()
	`, productCode, available)
	return err
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

	for _, s := range c.Stocks {
		tag, err := tx.Exec(ctx, `
			UPDATE inventory_stock
			SET available=$2, reserved=$3, version=version+1, updated_at=now()
			WHERE product_code=$1 AND version=$4
		`, s.ProductCode, s.Available, s.Reserved, s.Version)
		if err != nil {
			return fmt.Errorf("update stock %s: %w", s.ProductCode, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("stock %s@%d: %w", s.ProductCode, s.Version, ErrVersionConflict)
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
		return fmt.Errorf("commit stock change: %w", err)
	}
	return nil
}
