package events

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Redelivery is how a transport retries a message in place after its handler
// failed. Retries continue until the handler succeeds or ctx is done; the
// dead-letter fabric is what bounds them.
type Redelivery struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRedelivery = Redelivery{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

func (r Redelivery) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// deliver runs h until it accepts msg. The only error it returns is the
// context error on shutdown.
func (r Redelivery) deliver(ctx context.Context, logger *zap.Logger, h HandlerFunc, msg Message) error {
	op := func() error {
		return h(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("redelivering message",
			zap.String("topic", msg.Topic),
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(r.backOff(), ctx), notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
