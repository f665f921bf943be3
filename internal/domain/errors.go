package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound        = errors.New("not found")
	ErrQueueFull       = errors.New("queue is at capacity and no lower-priority item can be evicted")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidKind     = errors.New("invalid kind: must be order, booking, payment, telemetry, or message")
	ErrInvalidPriority = errors.New("invalid priority: must be high, normal, or low")
	ErrInvalidPayload  = errors.New("payload must be a non-empty JSON object")
	ErrMissingIdemKey  = errors.New("payment payload must carry an idempotency_key")
	ErrNotInFlight     = errors.New("operation is not in flight")
	ErrInFlight        = errors.New("operation is being replayed")
	ErrShutdown        = errors.New("subsystem is shut down")
	ErrNotStarted      = errors.New("subsystem is not initialised")

	// Replay outcome classification. Backends wrap these so strategies can
	// tell a terminal rejection from a transient one.
	ErrNetwork   = errors.New("network unavailable")
	ErrPermanent = errors.New("permanent failure")
	ErrDuplicate = errors.New("duplicate request: idempotency key already processed")
)
