package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Kind identifies which backend a queued operation is replayed against.
type Kind string

const (
	KindOrder     Kind = "order"
	KindBooking   Kind = "booking"
	KindPayment   Kind = "payment"
	KindTelemetry Kind = "telemetry"
	KindMessage   Kind = "message"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindOrder, KindBooking, KindPayment, KindTelemetry, KindMessage}

func (k Kind) IsValid() bool {
	switch k {
	case KindOrder, KindBooking, KindPayment, KindTelemetry, KindMessage:
		return true
	}
	return false
}

// DefaultMaxRetries returns the attempt budget for a kind when the
// configuration does not override it.
func (k Kind) DefaultMaxRetries() int {
	switch k {
	case KindTelemetry, KindMessage:
		return 3
	default:
		return 5
	}
}

// Priority controls queue ordering. High is processed first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank maps a priority onto an integer so that higher ranks drain first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// State tracks where a queued operation sits in the dispatch state machine.
// Terminal states (success, exhausted) are never stored: the item is removed.
type State string

const (
	StatePending  State = "pending"
	StateInFlight State = "in_flight"
)

// QueueItem is a write operation waiting for connectivity.
type QueueItem struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	Kind           Kind            `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Priority       Priority        `json:"priority"`
	State          State           `json:"state"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LastError      string          `json:"last_error,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Untried reports whether the item has never been attempted and is not
// currently claimed. Only untried items are eviction candidates.
func (q *QueueItem) Untried() bool {
	return q.RetryCount == 0 && q.State == StatePending
}

// Ready reports whether a pending item may be claimed at now.
func (q *QueueItem) Ready(now time.Time) bool {
	return q.State == StatePending && !q.NextAttemptAt.After(now)
}

// Before reports whether q drains ahead of other: priority descending,
// then enqueue time ascending, with the insertion sequence as tie-breaker.
func (q *QueueItem) Before(other *QueueItem) bool {
	if q.Priority.Rank() != other.Priority.Rank() {
		return q.Priority.Rank() > other.Priority.Rank()
	}
	if !q.EnqueuedAt.Equal(other.EnqueuedAt) {
		return q.EnqueuedAt.Before(other.EnqueuedAt)
	}
	return q.Seq < other.Seq
}

// EnqueueRequest is the producer-facing payload for a new operation.
type EnqueueRequest struct {
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
	Priority Priority        `json:"priority"`
}

// Validate rejects malformed operations before they reach the queue.
// Every returned error wraps ErrValidation.
func (r *EnqueueRequest) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidKind)
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidPriority)
	}
	if len(r.Payload) == 0 || !gjson.ValidBytes(r.Payload) || !gjson.ParseBytes(r.Payload).IsObject() {
		return fmt.Errorf("%w: %w", ErrValidation, ErrInvalidPayload)
	}
	if r.Kind == KindPayment && ExtractIdempotencyKey(r.Payload) == "" {
		return fmt.Errorf("%w: %w", ErrValidation, ErrMissingIdemKey)
	}
	return nil
}

// ExtractIdempotencyKey returns the client-generated idempotency key carried
// inside an opaque payload, or "" when absent. Both snake_case and camelCase
// spellings are accepted since payloads come from different screens.
func ExtractIdempotencyKey(payload json.RawMessage) string {
	for _, path := range []string{"idempotency_key", "idempotencyKey"} {
		if v := gjson.GetBytes(payload, path); v.Type == gjson.String {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// QueueStatus is the UI-facing summary of the operation queue.
type QueueStatus struct {
	Size              int        `json:"size"`
	PendingItems      int        `json:"pending_items"`
	InFlightItems     int        `json:"in_flight_items"`
	HighPriorityCount int        `json:"high_priority_count"`
	Capacity          int        `json:"capacity"`
	OldestEnqueuedAt  *time.Time `json:"oldest_enqueued_at,omitempty"`
	Summary           string     `json:"summary"`
}

// PendingSummary renders the "N items pending sync" indicator.
func PendingSummary(size int) string {
	switch size {
	case 0:
		return "All changes synced"
	case 1:
		return "1 item pending sync"
	default:
		return fmt.Sprintf("%d items pending sync", size)
	}
}
