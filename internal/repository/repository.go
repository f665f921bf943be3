package repository

import (
	"context"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
)

// OperationRepository persists the pending_operations collection.
// Every method is one durable write: when it returns nil the change
// survives a process restart.
type OperationRepository interface {
	LoadOperations(ctx context.Context) ([]*domain.QueueItem, error)
	InsertOperation(ctx context.Context, item *domain.QueueItem) error
	// ReplaceOperation deletes evictID and inserts item atomically.
	ReplaceOperation(ctx context.Context, evictID string, item *domain.QueueItem) error
	UpdateOperation(ctx context.Context, item *domain.QueueItem) error
	DeleteOperation(ctx context.Context, id string) error
	// ResetInFlight returns every in_flight row to pending and reports how many moved.
	ResetInFlight(ctx context.Context) (int, error)
}

// ErrorRepository persists the error_reports collection.
type ErrorRepository interface {
	LoadErrors(ctx context.Context) ([]*domain.ErrorRecord, error)
	// AppendError inserts rec and deletes evictIDs atomically.
	AppendError(ctx context.Context, rec *domain.ErrorRecord, evictIDs []string) error
	MarkErrorResolved(ctx context.Context, id string) error
	DeleteErrors(ctx context.Context, ids []string) error
}

// IdempotencyRepository remembers which idempotency keys have completed so
// a replay after a crash becomes a no-op.
type IdempotencyRepository interface {
	IsCompleted(ctx context.Context, key string) (bool, error)
	MarkCompleted(ctx context.Context, key string, kind domain.Kind, at time.Time) error
}

// Store is the full persistence surface owned by one subsystem instance.
// The SQLite implementation is in sqlite_store.go; tests and the "memory"
// driver use MemoryStore (memory_store.go).
type Store interface {
	OperationRepository
	ErrorRepository
	IdempotencyRepository
	Close() error
}
