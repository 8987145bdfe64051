package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

// ErrStale is returned when a marker insert or transition lost a race with
// another writer for the same order.
var ErrStale = errors.New("marker changed concurrently")

// State is the per-order completion state a reservation engine keeps.
type State string

const (
	StateReserved  State = "RESERVED"
	StateRejected  State = "REJECTED"
	StateConfirmed State = "CONFIRMED"
	StateReleased  State = "RELEASED"
	StateVoided    State = "VOIDED"
)

func ParseState(v string) (State, error) {
	switch s := State(v); s {
	case StateReserved, StateRejected, StateConfirmed, StateReleased, StateVoided:
		return s, nil
	default:
		return "", fmt.Errorf("unknown marker state %q", v)
	}
}

// Decision is the outcome the engine published when the marker was first
// written. Replays answer with the same decision.
func (s State) Decision() order.Status {
	switch s {
	case StateReserved, StateConfirmed, StateReleased:
		return order.StatusAccept
	default:
		return order.StatusReject
	}
}

// Marker records what an engine did for one order.
type Marker struct {
	OrderID string
	State   State
	Payload json.RawMessage
}

// Executor represents the subset of pgx methods required for marker operations.
type Executor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository stores markers per consumer (one consumer per engine).
type Repository struct {
	executor Executor
	consumer string
}

func NewRepository(exec Executor, consumer string) *Repository {
	return &Repository{executor: exec, consumer: consumer}
}

// WithExecutor returns a shallow copy using the provided executor (e.g., a transaction).
func (r *Repository) WithExecutor(exec Executor) *Repository {
	return &Repository{executor: exec, consumer: r.consumer}
}

// Get returns the marker for orderID. The boolean indicates whether one existed.
func (r *Repository) Get(ctx context.Context, orderID string) (Marker, bool, error) {
	var (
		state   string
		payload []byte
	)
	if err := r.executor.QueryRow(ctx, `
		SELECT state, payload
		FROM saga_markers
		WHERE consumer_name=$1 AND order_id=$2
	`, r.consumer, orderID).Scan(&state, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Marker{}, false, nil
		}
		return Marker{}, false, fmt.Errorf("select marker: %w", err)
	}

	s, err := ParseState(state)
	if err != nil {
		return Marker{}, false, err
	}
	return Marker{OrderID: orderID, State: s, Payload: payload}, true, nil
}

// Insert writes a new marker. ErrStale means one already exists.
func (r *Repository) Insert(ctx context.Context, m Marker) error {
	payload := m.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	tag, err := r.executor.Exec(ctx, `
		INSERT INTO saga_markers (consumer_name, order_id, state, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer_name, order_id) DO NOTHING
	`, r.consumer, m.OrderID, string(m.State), []byte(payload))
	if err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert marker %s: %w", m.OrderID, ErrStale)
	}
	return nil
}

// Transition moves a marker from one state to another. ErrStale means the
// marker was not in the expected state.
func (r *Repository) Transition(ctx context.Context, orderID string, from, to State) error {
	tag, err := r.executor.Exec(ctx, `
		UPDATE saga_markers
		SET state=$4, updated_at=now()
		WHERE consumer_name=$1 AND order_id=$2 AND state=$3
	`, r.consumer, orderID, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marker %s %s->%s: %w", orderID, from, to, ErrStale)
	}
	return nil
}
