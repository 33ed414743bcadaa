package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrConfiguration    = errors.New("configuration error")
	ErrTransientSource  = errors.New("transient source error")
	ErrDataFormat       = errors.New("data format error")
	ErrAllSourcesFailed = errors.New("all sources failed")
	ErrCancelled        = errors.New("cancelled")

	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
)

// Transient marks err as a retryable source failure.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientSource) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientSource, err)
}

// DataFormatf builds a non-retryable decode/normalization error.
func DataFormatf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataFormat, fmt.Sprintf(format, args...))
}

// Cancelled marks err as caller cancellation. It is a no-op for errors that
// already carry ErrCancelled.
func Cancelled(err error) error {
	if err == nil || errors.Is(err, ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// IsRetryable reports whether a source failure is worth another attempt.
// Errors tagged transient stay retryable even when they wrap a timeout: a
// client or node deadline is a source failure, and caller cancellation is
// tagged ErrCancelled instead.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCancelled):
		return false
	case errors.Is(err, ErrTransientSource):
		return true
	case errors.Is(err, ErrDataFormat),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// SourceFailure records why one source was abandoned.
type SourceFailure struct {
	Source SourceType
	Err    error
}

// AllSourcesFailedError is returned when every enabled source of a strategy
// failed. Failures are in attempt order.
type AllSourcesFailedError struct {
	Protocol Protocol
	Network  Network
	Failures []SourceFailure
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Source, f.Err))
	}
	return fmt.Sprintf("%s for %s/%s: [%s]",
		ErrAllSourcesFailed, e.Protocol, e.Network, strings.Join(parts, "; "))
}

// Is matches ErrAllSourcesFailed. The causes are reachable through Failures
// only, so errors.Is never reports a cause's kind for the aggregate.
func (e *AllSourcesFailedError) Is(target error) bool {
	return target == ErrAllSourcesFailed
}

// ErrorKind names the taxonomy class of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	case errors.Is(err, ErrAllSourcesFailed):
		return "AllSourcesFailedError"
	case errors.Is(err, ErrCancelled):
		return "CancelledError"
	case errors.Is(err, ErrDataFormat):
		return "DataFormatError"
	case errors.Is(err, ErrTransientSource):
		return "TransientSourceError"
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "CancelledError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "InternalError"
	}
}
