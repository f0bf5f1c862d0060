package models

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind classifies ingestion failures.
type ErrorKind string

const (
	KindUnknown          ErrorKind = "unknown"
	KindTransient        ErrorKind = "transient"
	KindRateLimited      ErrorKind = "rate_limited"
	KindRateLimitTimeout ErrorKind = "rate_limit_timeout"
	KindPermanent        ErrorKind = "permanent"
	KindConstraint       ErrorKind = "constraint_violation"
	KindFatal            ErrorKind = "fatal_precondition"
	KindCancelled        ErrorKind = "cancelled"
)

// TransientError is a retryable failure: network errors, timeouts, 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError is returned by providers that answered 429 or an explicit
// rate-limit response.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s, retry after %s", e.Provider, e.RetryAfter)
}

// RateLimitTimeoutError means no permit was obtained before the caller's deadline.
type RateLimitTimeoutError struct {
	Provider string
	Err      error
}

func (e *RateLimitTimeoutError) Error() string {
	return fmt.Sprintf("rate limit timeout for %s: %v", e.Provider, e.Err)
}
func (e *RateLimitTimeoutError) Unwrap() error { return e.Err }

// PermanentError is not retryable: malformed payload, schema violation, 4xx.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent %s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// ConstraintViolationError reports a unique-key collision. Stores resolve it as an
// idempotent upsert, it never reaches pipeline callers.
type ConstraintViolationError struct {
	Key string
	Err error
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation on %s: %v", e.Key, e.Err)
}
func (e *ConstraintViolationError) Unwrap() error { return e.Err }

// FatalPreconditionError aborts a whole run.
type FatalPreconditionError struct {
	Reason string
	Err    error
}

func (e *FatalPreconditionError) Error() string {
	if e.Err == nil {
		return "fatal precondition: " + e.Reason
	}
	return fmt.Sprintf("fatal precondition: %s: %v", e.Reason, e.Err)
}
func (e *FatalPreconditionError) Unwrap() error { return e.Err }

func Transient(op string, err error) error { return &TransientError{Op: op, Err: err} }

func Permanent(op string, err error) error { return &PermanentError{Op: op, Err: err} }

func Permanentf(op, format string, args ...any) error {
	return &PermanentError{Op: op, Err: errors.Errorf(format, args...)}
}

func Fatal(reason string, err error) error { return &FatalPreconditionError{Reason: reason, Err: err} }

// KindOf walks the error chain and returns the most specific kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		timeout    *RateLimitTimeoutError
		fatal      *FatalPreconditionError
		permanent  *PermanentError
		transient  *TransientError
		limited    *RateLimitedError
		constraint *ConstraintViolationError
	)
	switch {
	case errors.As(err, &timeout):
		return KindRateLimitTimeout
	case errors.As(err, &fatal):
		return KindFatal
	case errors.As(err, &permanent):
		return KindPermanent
	case errors.As(err, &limited):
		return KindRateLimited
	case errors.As(err, &transient):
		return KindTransient
	case errors.As(err, &constraint):
		return KindConstraint
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt with backoff.
func IsRetryable(err error) bool { return KindOf(err) == KindTransient }

// RetryAfter extracts the provider-mandated backoff, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	return 0, false
}
