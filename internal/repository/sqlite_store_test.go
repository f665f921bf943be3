package repository_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ricirt/offline-sync/internal/db"
	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/repository"
)

func openStore(t *testing.T, path string) repository.Store {
	t.Helper()
	conn, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	return repository.NewSQLiteStore(conn)
}

func newItem(id string, seq int64, p domain.Priority, at time.Time) *domain.QueueItem {
	return &domain.QueueItem{
		ID:            id,
		Seq:           seq,
		Kind:          domain.KindOrder,
		Payload:       json.RawMessage(`{"restaurant_id":"r-1"}`),
		Priority:      p,
		State:         domain.StatePending,
		RetryCount:    0,
		MaxRetries:    5,
		NextAttemptAt: at,
		EnqueuedAt:    at,
		UpdatedAt:     at,
	}
}

func TestSQLiteStore_OperationsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sync.db")
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store := openStore(t, path)
	require.NoError(t, store.InsertOperation(ctx, newItem("low", 1, domain.PriorityLow, t0)))
	require.NoError(t, store.InsertOperation(ctx, newItem("high", 2, domain.PriorityHigh, t0.Add(time.Second))))

	claimed := newItem("low", 1, domain.PriorityLow, t0)
	claimed.State = domain.StateInFlight
	claimed.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, store.UpdateOperation(ctx, claimed))
	require.NoError(t, store.Close())

	store = openStore(t, path)
	t.Cleanup(func() { _ = store.Close() })

	n, err := store.ResetInFlight(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, err := store.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "high", items[0].ID)
	require.Equal(t, "low", items[1].ID)
	require.Equal(t, domain.StatePending, items[1].State)
	require.True(t, items[1].EnqueuedAt.Equal(t0))
	require.JSONEq(t, `{"restaurant_id":"r-1"}`, string(items[1].Payload))
}

func TestSQLiteStore_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	t.Cleanup(func() { _ = store.Close() })
	now := time.Now().UTC()

	require.NoError(t, store.InsertOperation(ctx, newItem("a", 1, domain.PriorityLow, now)))
	require.NoError(t, store.ReplaceOperation(ctx, "a", newItem("b", 2, domain.PriorityHigh, now)))

	items, err := store.LoadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "b", items[0].ID)

	require.NoError(t, store.DeleteOperation(ctx, "b"))
	require.ErrorIs(t, store.DeleteOperation(ctx, "b"), domain.ErrNotFound)
}

func TestSQLiteStore_ErrorReports(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	t.Cleanup(func() { _ = store.Close() })

	rec := func(id string) *domain.ErrorRecord {
		return &domain.ErrorRecord{
			ID:         id,
			Timestamp:  time.Now().UTC(),
			Category:   domain.CategoryAPI,
			Severity:   domain.SeverityMedium,
			Message:    "replay exhausted",
			Context:    domain.ErrorContext{Action: "dispatch", OperationID: "op-" + id, Kind: domain.KindTelemetry},
			UserImpact: domain.ImpactMinor,
		}
	}

	require.NoError(t, store.AppendError(ctx, rec("e1"), nil))
	require.NoError(t, store.AppendError(ctx, rec("e2"), nil))
	require.NoError(t, store.AppendError(ctx, rec("e3"), []string{"e1"}))
	require.NoError(t, store.MarkErrorResolved(ctx, "e2"))
	require.ErrorIs(t, store.MarkErrorResolved(ctx, "missing"), domain.ErrNotFound)

	records, err := store.LoadErrors(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "e2", records[0].ID)
	require.True(t, records[0].Resolved)
	require.Equal(t, "e3", records[1].ID)
	require.Equal(t, domain.KindTelemetry, records[1].Context.Kind)

	require.NoError(t, store.DeleteErrors(ctx, []string{"e2"}))
	records, err = store.LoadErrors(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSQLiteStore_IdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "sync.db"))
	t.Cleanup(func() { _ = store.Close() })

	done, err := store.IsCompleted(ctx, "K1")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkCompleted(ctx, "K1", domain.KindPayment, time.Now()))
	// Recording the same key twice is harmless.
	require.NoError(t, store.MarkCompleted(ctx, "K1", domain.KindPayment, time.Now()))

	done, err = store.IsCompleted(ctx, "K1")
	require.NoError(t, err)
	require.True(t, done)
}
