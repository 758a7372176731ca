package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// RecoverableError lets an error declare whether it can be retried,
// overriding the built-in heuristics.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// transientPatterns are error-message fragments that mark a failure as
// retryable when no explicit classification is available.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"rate limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

// IsRecoverable reports whether an error is worth retrying. An error that
// implements RecoverableError decides for itself; otherwise network-style
// heuristics apply. Context cancellation is intentional and never retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var recoverable RecoverableError
	if errors.As(err, &recoverable) {
		return recoverable.IsRecoverable()
	}
	return isRecoverableByType(err)
}

func isRecoverableByType(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) && (netErr.Temporary() || netErr.Timeout()) {
		return true
	}

	// URL errors wrap the underlying transport failure
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return isRecoverableByType(urlErr.Err)
	}

	message := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

type classifiedError struct {
	err         error
	recoverable bool
}

func (e *classifiedError) Error() string       { return e.err.Error() }
func (e *classifiedError) IsRecoverable() bool { return e.recoverable }
func (e *classifiedError) Unwrap() error       { return e.err }

// Recoverable wraps an error so Do will retry it.
func Recoverable(err error) error {
	return &classifiedError{err: err, recoverable: true}
}

// NonRecoverable wraps an error so Do surfaces it immediately without
// further attempts.
func NonRecoverable(err error) error {
	return &classifiedError{err: err, recoverable: false}
}
