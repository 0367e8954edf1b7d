package payment

import (
	"errors"

	"payflow/internal/idempotency"
	"payflow/internal/resilience"
)

// ErrInvalidRequest indicates a malformed amount, currency, or
// idempotency key. Such requests never reach the store or the breaker.
var ErrInvalidRequest = errors.New("invalid payment request")

// ErrServiceUnavailable indicates the gateway breaker is open or the call
// timed out. It is surfaced distinctly from generic downstream failures so
// callers can apply different backoff.
var ErrServiceUnavailable = errors.New("service unavailable (circuit open)")

// ErrGatewayFailure indicates the gateway itself rejected the call for a
// reason other than timeout or open circuit. The idempotency lock is
// released so an immediate retry is possible.
var ErrGatewayFailure = errors.New("payment gateway failure")

// Kind enumerates the request-visible outcome classes. The HTTP layer's
// status mapping is a total function of this kind.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidRequest
	KindConflict
	KindServiceUnavailable
	KindGatewayFailure
	KindStoreUnavailable
)

// Classify maps an error from the orchestrator to its outcome kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, idempotency.ErrConflict):
		return KindConflict
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, resilience.ErrCircuitOpen),
		errors.Is(err, resilience.ErrActionTimeout):
		return KindServiceUnavailable
	case errors.Is(err, idempotency.ErrStoreUnavailable),
		errors.Is(err, idempotency.ErrCorruptRecord):
		return KindStoreUnavailable
	case errors.Is(err, ErrGatewayFailure):
		return KindGatewayFailure
	default:
		return KindInternal
	}
}
