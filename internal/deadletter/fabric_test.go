package deadletter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []events.Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func fastPolicy() Policy {
	return Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond, MaxAttempts: 4}
}

func origin() events.Message {
	return events.Message{
		Topic:     events.TopicOrders,
		Partition: 2,
		Offset:    17,
		Key:       []byte("order-1"),
		Value:     []byte(`{"orderId":`),
		Headers:   map[string]string{events.HeaderEventID: "e-1"},
	}
}

func TestFabric_Success(t *testing.T) {
	pub := &recordingPublisher{}
	f := New(pub, fastPolicy(), zap.NewNop())
	var outcomes []Outcome
	f.OnOutcome = func(o Outcome) { outcomes = append(outcomes, o) }

	h := f.Wrap(func(ctx context.Context, msg events.Message) error { return nil })

	require.NoError(t, h(context.Background(), origin()))
	assert.Empty(t, pub.msgs)
	require.Len(t, outcomes, 1)
	assert.Equal(t, StateDone, outcomes[0].State)
	assert.Equal(t, 1, outcomes[0].Attempts)
}

func TestFabric_TransientThenSuccess(t *testing.T) {
	pub := &recordingPublisher{}
	f := New(pub, fastPolicy(), zap.NewNop())

	calls := 0
	h := f.Wrap(func(ctx context.Context, msg events.Message) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, h(context.Background(), origin()))
	assert.Equal(t, 3, calls)
	assert.Empty(t, pub.msgs)
}

func TestFabric_DeadLetters(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantKind  string
	}{
		{name: "malformed skips retry", err: apperr.ErrMalformed, wantCalls: 1, wantKind: apperr.KindPoison},
		{name: "fatal skips retry", err: apperr.Fatal(errors.New("unknown customer")), wantCalls: 1, wantKind: apperr.KindFatal},
		{name: "transient exhausts attempts", err: errors.New("db down"), wantCalls: 4, wantKind: apperr.KindTransient},
		{name: "conflict exhausts attempts", err: apperr.ErrConflict, wantCalls: 4, wantKind: apperr.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			f := New(pub, fastPolicy(), zap.NewNop())
			var outcomes []Outcome
			f.OnOutcome = func(o Outcome) { outcomes = append(outcomes, o) }

			calls := 0
			h := f.Wrap(func(ctx context.Context, msg events.Message) error {
				calls++
				return tt.err
			})

			require.NoError(t, h(context.Background(), origin()))
			assert.Equal(t, tt.wantCalls, calls)

			require.Len(t, pub.msgs, 1)
			dlt := pub.msgs[0]
			assert.Equal(t, "orders.DLT", dlt.Topic)
			assert.Equal(t, []byte("order-1"), dlt.Key)
			assert.Equal(t, []byte(`{"orderId":`), dlt.Value)
			assert.Equal(t, "e-1", dlt.Header(events.HeaderEventID))
			assert.Equal(t, "orders", dlt.Header(events.HeaderDLTOriginalTopic))
			assert.Equal(t, "2", dlt.Header(events.HeaderDLTOriginalPartition))
			assert.Equal(t, "17", dlt.Header(events.HeaderDLTOriginalOffset))
			assert.Equal(t, tt.wantKind, dlt.Header(events.HeaderDLTErrorKind))
			assert.Equal(t, tt.err.Error(), dlt.Header(events.HeaderDLTExceptionMessage))

			require.Len(t, outcomes, 1)
			assert.Equal(t, StateDeadLettered, outcomes[0].State)
			assert.Equal(t, tt.wantCalls, outcomes[0].Attempts)
		})
	}
}

func TestFabric_DeadLetterPublishFailureIsReturned(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	f := New(pub, fastPolicy(), zap.NewNop())

	h := f.Wrap(func(ctx context.Context, msg events.Message) error { return apperr.ErrMalformed })

	err := h(context.Background(), origin())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestFabric_CanceledContextIsNotDeadLettered(t *testing.T) {
	pub := &recordingPublisher{}
	policy := Policy{InitialInterval: time.Hour, Multiplier: 2, MaxInterval: time.Hour, MaxAttempts: 4}
	f := New(pub, policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h := f.Wrap(func(ctx context.Context, msg events.Message) error {
		cancel()
		return errors.New("db down")
	})

	err := h(ctx, origin())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, pub.msgs)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DEAD_LETTERED", StateDeadLettered.String())
	assert.Equal(t, "RETRY", StateRetry.String())
}
