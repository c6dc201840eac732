package resilientcall

import (
	"fmt"
	"time"

	"github.com/wbigno/resilientcall/internal/circuitbreaker"
)

// ErrorKind classifies a call failure. The set is exhaustive: callers never
// see a raw transport error, only a *CallError carrying one of these kinds.
type ErrorKind string

const (
	// KindTimeout — the attempt exceeded its per-attempt timeout. Retryable.
	KindTimeout ErrorKind = "TIMEOUT"
	// KindNetwork — connection-level failure (DNS, refused, reset). Retryable.
	KindNetwork ErrorKind = "NETWORK"
	// KindHTTPError — well-formed response with non-2xx status. Retried only
	// for statuses in the configured retry set (default 429 and 5xx).
	KindHTTPError ErrorKind = "HTTP_ERROR"
	// KindParseError — response body could not be decoded (or failed schema
	// validation) in the requested parse mode. Counts against the retry budget.
	KindParseError ErrorKind = "PARSE_ERROR"
	// KindCircuitOpen — the breaker rejected the call before any network
	// attempt. Never retried by this layer.
	KindCircuitOpen ErrorKind = "CIRCUIT_OPEN"
	// KindAborted — the caller's context was cancelled. Not retried.
	KindAborted ErrorKind = "ABORTED"
	// KindUnknown — unclassifiable failure. Retryable; logged with the
	// original error for diagnosis.
	KindUnknown ErrorKind = "UNKNOWN"
)

// CallError is the structured failure returned by Client.Do. It wraps the
// underlying cause (if any) so errors.Is/errors.As keep working — in
// particular errors.Is(err, circuitbreaker.ErrCircuitOpen) holds for
// KindCircuitOpen failures.
type CallError struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	cause error
}

func newCallError(kind ErrorKind, message string, details map[string]any, cause error) *CallError {
	return &CallError{
		Kind:      kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CallError) Unwrap() error { return e.cause }

// Retryable reports whether this failure may be retried by the call layer.
// CIRCUIT_OPEN and ABORTED are terminal for the call.
func (e *CallError) Retryable() bool {
	switch e.Kind {
	case KindCircuitOpen, KindAborted:
		return false
	default:
		return true
	}
}

// ErrCircuitOpen is re-exported so callers can test rejection without
// importing the internal breaker package.
var ErrCircuitOpen = circuitbreaker.ErrCircuitOpen
