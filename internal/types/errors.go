package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrClass partitions failures by how the pipeline must react to them.
type ErrClass string

const (
	// ErrClassValidation: bad input. Never retried; surfaced as a
	// clarification request.
	ErrClassValidation ErrClass = "/validation"
	// ErrClassTransient: network/timeout/rate-limit. Retried with backoff.
	ErrClassTransient ErrClass = "/transient"
	// ErrClassFatal: programming or config error. Logged, surfaced as a
	// generic failure; the process keeps serving other requests.
	ErrClassFatal ErrClass = "/fatal"
	// ErrClassCancelled: the request-scoped context was cancelled.
	ErrClassCancelled ErrClass = "/cancelled"
)

// classifiedError wraps an error with its class so retry policy and
// user-facing messaging can branch without string matching.
type classifiedError struct {
	class ErrClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// ValidationError marks err as a validation failure.
func ValidationError(format string, args ...interface{}) error {
	return &classifiedError{class: ErrClassValidation, err: fmt.Errorf(format, args...)}
}

// TransientError marks err as retryable.
func TransientError(format string, args ...interface{}) error {
	return &classifiedError{class: ErrClassTransient, err: fmt.Errorf(format, args...)}
}

// FatalError marks err as a non-retryable internal failure.
func FatalError(format string, args ...interface{}) error {
	return &classifiedError{class: ErrClassFatal, err: fmt.Errorf(format, args...)}
}

// WrapTransient preserves an existing error chain while classifying it
// as transient.
func WrapTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ErrClassTransient, err: err}
}

// Classify returns the class of err. Unclassified errors default to
// fatal so they are never silently retried.
func Classify(err error) ErrClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrClassCancelled
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ErrClassFatal
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == ErrClassTransient
}
