// Package resilience provides the retry-with-backoff and circuit-breaker
// decorators placed around calls to the embedding and generation backends,
// plus an optional outbound rate throttle.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrServiceUnavailable is returned, wrapped, when a circuit breaker rejects
// a call without attempting it.
var ErrServiceUnavailable = errors.New("service temporarily unavailable")

// transientError marks an error as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable. It returns nil for a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// transientMarkers are message fragments that identify retryable backend
// failures when the error carries no type information.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"429",
	"502",
	"503",
	"504",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"eof",
}

// IsTransient reports whether err is likely to succeed on retry: errors
// marked with Transient, deadline expiry, network timeouts, and errors whose
// message names a timeout, rate limit or connection failure. Context
// cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
