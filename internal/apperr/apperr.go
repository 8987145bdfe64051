// Package apperr classifies message-processing failures for the retry and
// dead-letter fabric.
package apperr

import (
	"context"
	"errors"
)

// ErrMalformed marks payloads that can never be processed: undecodable JSON,
// unknown enum values, missing required fields.
var ErrMalformed = errors.New("malformed message")

// ErrConflict marks optimistic-concurrency conflicts that outlived their
// local retry budget.
var ErrConflict = errors.New("concurrent modification")

const (
	KindPoison    = "poison"
	KindFatal     = "fatal"
	KindConflict  = "conflict"
	KindCanceled  = "canceled"
	KindTransient = "transient"
)

// FatalError wraps a domain failure that must not be retried.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Kind returns the failure class of err, or "" for nil.
func Kind(err error) string {
	var fatal *FatalError
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrMalformed):
		return KindPoison

	case errors.As(err, &fatal):
		return KindFatal

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCanceled

	case errors.Is(err, ErrConflict):
		return KindConflict

	default:
		return KindTransient
	}
}

// Retryable reports whether another attempt of the same message could succeed.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindPoison, KindFatal, "":
		return false
	default:
		return true
	}
}
