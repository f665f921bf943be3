// Package strategy holds the per-kind recovery strategies that replay a
// queued operation against its real backend.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/provider"
)

// Result is the terminal verdict of one replay attempt.
type Result int

const (
	Success Result = iota
	RetryableFailure
	PermanentFailure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Outcome is what a Strategy reports back to the dispatcher.
type Outcome struct {
	Result Result
	// Reason explains a PermanentFailure.
	Reason string
	Err    error
	// Duplicate marks a Success that was absorbed as a no-op because the
	// idempotency key had already been processed.
	Duplicate bool
}

func Succeeded() Outcome { return Outcome{Result: Success} }

func Retry(err error) Outcome { return Outcome{Result: RetryableFailure, Err: err} }

func Permanent(reason string, err error) Outcome {
	return Outcome{Result: PermanentFailure, Reason: reason, Err: err}
}

// Strategy knows how to replay one or more kinds of operation.
type Strategy interface {
	Name() string
	CanHandle(k domain.Kind) bool
	Replay(ctx context.Context, item *domain.QueueItem) Outcome
}

// backendReplay is the shared body of the simple strategies: hand the
// payload to the backend and translate its error.
type backendReplay struct {
	name    string
	kind    domain.Kind
	backend provider.Backend
}

func (r *backendReplay) Name() string                 { return r.name }
func (r *backendReplay) CanHandle(k domain.Kind) bool { return k == r.kind }

func (r *backendReplay) Replay(ctx context.Context, item *domain.QueueItem) Outcome {
	_, err := r.backend.Replay(ctx, requestFor(item))
	return outcomeOf(err)
}

func requestFor(item *domain.QueueItem) provider.Request {
	return provider.Request{
		OperationID:    item.ID,
		Kind:           item.Kind,
		Payload:        item.Payload,
		IdempotencyKey: item.IdempotencyKey,
	}
}

// outcomeOf maps a backend error onto an Outcome. Anything not explicitly
// permanent or duplicate is assumed transient.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Succeeded()
	case errors.Is(err, domain.ErrDuplicate):
		return Outcome{Result: Success, Duplicate: true, Err: err}
	case errors.Is(err, domain.ErrPermanent), errors.Is(err, domain.ErrValidation):
		return Permanent(err.Error(), err)
	default:
		return Retry(err)
	}
}

type OrderReplay struct{ backendReplay }

func NewOrderReplay(b provider.Backend) *OrderReplay {
	return &OrderReplay{backendReplay{name: "order_replay", kind: domain.KindOrder, backend: b}}
}

type BookingReplay struct{ backendReplay }

func NewBookingReplay(b provider.Backend) *BookingReplay {
	return &BookingReplay{backendReplay{name: "booking_replay", kind: domain.KindBooking, backend: b}}
}

// TelemetryReplay forwards analytics events. Ingestion is idempotent on the
// operation id, so a duplicate is simply a success.
type TelemetryReplay struct{ backendReplay }

func NewTelemetryReplay(b provider.Backend) *TelemetryReplay {
	return &TelemetryReplay{backendReplay{name: "telemetry_replay", kind: domain.KindTelemetry, backend: b}}
}

type MessageReplay struct{ backendReplay }

func NewMessageReplay(b provider.Backend) *MessageReplay {
	return &MessageReplay{backendReplay{name: "message_replay", kind: domain.KindMessage, backend: b}}
}
