package provider

import (
	"context"
	"encoding/json"

	"github.com/ricirt/offline-sync/internal/domain"
)

// Request is one replay of a queued operation against its real backend.
type Request struct {
	OperationID    string
	Kind           domain.Kind
	Payload        json.RawMessage
	IdempotencyKey string
}

// Response is what the backend returned for a successful replay.
type Response struct {
	StatusCode int
	Reference  string
}

// Backend replays an operation. Implementations signal the outcome through
// the error:
//
//	nil                      → success
//	wraps domain.ErrDuplicate → the idempotency key was already processed
//	wraps domain.ErrPermanent → rejected, never retry
//	anything else            → transient, retry later
//
// Backends promise that repeating a request with the same idempotency key
// has no further effect.
type Backend interface {
	Replay(ctx context.Context, req Request) (*Response, error)
}

// BackendFunc adapts a plain function to Backend. Payment gateways, SMS
// clients and analytics ingestion are injected this way.
type BackendFunc func(ctx context.Context, req Request) (*Response, error)

func (f BackendFunc) Replay(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
