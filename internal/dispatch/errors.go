package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is delivered to requests still queued when the client
	// is destroyed.
	ErrClientClosed = errors.New("dispatch: client closed")

	// ErrQueueCleared is delivered to requests dropped by ClearQueue.
	ErrQueueCleared = errors.New("dispatch: request cancelled by queue clear")
)

// APIError is the uniform failure shape every dispatch error is normalized
// into. StatusCode 0 means no HTTP response was received (network failure).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("dispatch: no response: %s", e.Message)
	}
	return fmt.Sprintf("dispatch: status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying: network errors,
// server errors and 429 rate limiting. Other 4xx responses are permanent.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Transient classifies an arbitrary dispatch result for callers that layer
// their own retry budget on top of the client's. Errors that are not
// APIErrors (validation failures, queue clears) are never retryable.
func Transient(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Transient()
	}
	return false
}
