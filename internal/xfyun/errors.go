package xfyun

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSigningInput indicates that the endpoint cannot be used to build signed URLs.
	ErrSigningInput = errors.New("invalid signing input")
	// ErrConnection indicates that the socket could not be opened or failed mid-exchange.
	ErrConnection = errors.New("connection failed")
	// ErrTimeout indicates that the exchange did not close within the wait ceiling.
	ErrTimeout = errors.New("exchange timed out")
	// ErrIncompleteStream indicates that the socket closed before the terminal frame.
	ErrIncompleteStream = errors.New("stream closed before the final frame")
	// ErrCancelled indicates that Stop was requested before the exchange completed.
	ErrCancelled = errors.New("exchange cancelled")
	// ErrMalformedFrame indicates that an inbound frame could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// ProtocolError is a non-zero status code reported by the remote API.
type ProtocolError struct {
	Code    int
	Message string
	SID     string
}

func (e *ProtocolError) Error() string {
	if e.SID == "" {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("remote error %d (sid %s): %s", e.Code, e.SID, e.Message)
}

// IsRetryable reports whether a failed exchange is worth another attempt.
// Cancellation and configuration errors are terminal; transport, timeout,
// incomplete-stream and remote errors are retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCancelled),
		errors.Is(err, ErrSigningInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
