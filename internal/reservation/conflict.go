package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/apperr"
)

// ConflictPolicy bounds the optimistic-concurrency loop around a single
// compare-and-swap save.
type ConflictPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConflictPolicy() ConflictPolicy {
	return ConflictPolicy{
		MaxRetries:      8,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// Do runs op until it stops failing with conflict. Other errors end the loop
// immediately; running out of retries yields apperr.ErrConflict.
func (p ConflictPolicy) Do(ctx context.Context, conflict error, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil || errors.Is(err, conflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))

	if err != nil && errors.Is(err, conflict) {
		return fmt.Errorf("%w after %d attempts: %v", apperr.ErrConflict, attempts, err)
	}
	return err
}
