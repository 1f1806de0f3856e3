package llm

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrRateLimited is returned when the service rejects a request for quota reasons.
	ErrRateLimited = errors.New("llm: rate limited")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("llm: timeout")

	// ErrInvalidResponse is returned when the service answers with something unusable.
	ErrInvalidResponse = errors.New("llm: invalid response")
)

// Retryable reports whether an error from a generation or embedding call is
// worth another attempt. Caller cancellation is not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// statusError maps an HTTP status to one of the sentinel errors, or nil when
// the status has no specific meaning.
func statusError(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}
	return nil
}

// transportError maps a failed round trip, keeping deadline expiry distinguishable.
func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
