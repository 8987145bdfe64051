// Package deadletter bounds message retries and routes messages that cannot
// be processed to a dead-letter topic.
package deadletter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/events"
)

// State is where a message is in its processing lifecycle.
type State uint8

const (
	StateReceived State = iota
	StateRetry
	StateDone
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateRetry:
		return "RETRY"
	case StateDone:
		return "DONE"
	case StateDeadLettered:
		return "DEAD_LETTERED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

type Policy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	// MaxAttempts counts the first attempt.
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     4,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Outcome is reported once per message when it leaves the fabric.
type Outcome struct {
	Message  events.Message
	State    State
	Attempts int
	Err      error
}

type Fabric struct {
	pub    events.Publisher
	policy Policy
	logger *zap.Logger

	// OnOutcome, when set, observes every finished message.
	OnOutcome func(Outcome)
}

func New(pub events.Publisher, policy Policy, logger *zap.Logger) *Fabric {
	return &Fabric{pub: pub, policy: policy, logger: logger}
}

// Wrap retries h on transient errors and dead-letters the message once the
// attempts are exhausted or the error is not retryable. The returned handler
// only fails when the dead-letter publish fails or ctx is done, so the
// transport keeps the message for redelivery in exactly those cases.
func (f *Fabric) Wrap(h events.HandlerFunc) events.HandlerFunc {
	return func(ctx context.Context, msg events.Message) error {
		state := StateReceived
		attempts := 0

		op := func() error {
			attempts++
			err := h(ctx, msg)
			if err == nil {
				return nil
			}
			if !apperr.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, wait time.Duration) {
			state = StateRetry
			f.logger.Warn("retrying message",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Int("attempt", attempts),
				zap.Duration("wait", wait),
				zap.String("kind", apperr.Kind(err)),
				zap.Error(err),
			)
		}

		err := backoff.RetryNotify(op, f.policy.backOff(ctx), notify)
		if err == nil {
			f.report(Outcome{Message: msg, State: StateDone, Attempts: attempts})
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		f.logger.Error("dead-lettering message",
			zap.String("topic", msg.Topic),
			zap.ByteString("key", msg.Key),
			zap.Int64("offset", msg.Offset),
			zap.String("from_state", state.String()),
			zap.Int("attempts", attempts),
			zap.String("kind", apperr.Kind(err)),
			zap.Error(err),
		)
		if pubErr := f.pub.Publish(ctx, deadLetter(msg, err, attempts)); pubErr != nil {
			return fmt.Errorf("publish dead letter for %s@%d: %w", msg.Topic, msg.Offset, pubErr)
		}
		f.report(Outcome{Message: msg, State: StateDeadLettered, Attempts: attempts, Err: err})
		return nil
	}
}

func (f *Fabric) report(o Outcome) {
	if f.OnOutcome != nil {
		f.OnOutcome(o)
	}
}

func deadLetter(msg events.Message, cause error, attempts int) events.Message {
	headers := make(map[string]string, len(msg.Headers)+6)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[events.HeaderDLTOriginalTopic] = msg.Topic
	headers[events.HeaderDLTOriginalPartition] = strconv.Itoa(msg.Partition)
	headers[events.HeaderDLTOriginalOffset] = strconv.FormatInt(msg.Offset, 10)
	headers[events.HeaderDLTExceptionMessage] = cause.Error()
	headers[events.HeaderDLTErrorKind] = apperr.Kind(cause)
	headers[events.HeaderDLTAttempts] = strconv.Itoa(attempts)

	return events.Message{
		Topic:   events.DeadLetterTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
}
