package journal_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/journal"
	"github.com/ricirt/offline-sync/internal/repository"
)

func openJournal(t *testing.T, store repository.ErrorRepository, opts journal.Options) *journal.Journal {
	t.Helper()
	j, err := journal.Open(context.Background(), store, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	return j
}

func record(msg string, sev domain.Severity) domain.ErrorRecord {
	return domain.ErrorRecord{Category: domain.CategoryAPI, Severity: sev, Message: msg}
}

func TestJournal_BoundedOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	j := openJournal(t, store, journal.Options{Capacity: 3})

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := j.LogError(ctx, record(fmt.Sprintf("e%d", i), domain.SeverityLow))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	st := j.Statistics(10)
	if st.Total != 3 {
		t.Fatalf("expected 3 records, got %d", st.Total)
	}
	if st.Recent[0].ID != ids[4] || st.Recent[2].ID != ids[2] {
		t.Fatalf("expected newest-first e4..e2, got %+v", st.Recent)
	}
	if _, err := j.Get(ids[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("oldest record must be evicted, got %v", err)
	}

	persisted, _ := store.LoadErrors(ctx)
	if len(persisted) != 3 || persisted[0].ID != ids[2] {
		t.Fatalf("persisted journal not trimmed: %d rows", len(persisted))
	}
}

func TestJournal_CriticalEscalation(t *testing.T) {
	ctx := context.Background()

	t.Run("delivered once", func(t *testing.T) {
		var got []domain.ErrorRecord
		j := openJournal(t, repository.NewMemoryStore(), journal.Options{
			Escalator: journal.EscalatorFunc(func(_ context.Context, rec domain.ErrorRecord) error {
				got = append(got, rec)
				return nil
			}),
		})
		_, _ = j.LogError(ctx, record("minor", domain.SeverityHigh))
		id, _ := j.LogError(ctx, record("payment lost", domain.SeverityCritical))
		if len(got) != 1 || got[0].ID != id {
			t.Fatalf("expected one escalation for %s, got %+v", id, got)
		}
	})

	t.Run("failure is swallowed", func(t *testing.T) {
		j := openJournal(t, repository.NewMemoryStore(), journal.Options{
			Escalator: journal.EscalatorFunc(func(context.Context, domain.ErrorRecord) error {
				return errors.New("sms relay down")
			}),
		})
		if _, err := j.LogError(ctx, record("boom", domain.SeverityCritical)); err != nil {
			t.Fatalf("escalation failure must not surface: %v", err)
		}
		if st := j.Statistics(0); st.Total != 1 {
			t.Fatalf("escalation failure must not be journaled, total=%d", st.Total)
		}
	})

	t.Run("panic is swallowed", func(t *testing.T) {
		j := openJournal(t, repository.NewMemoryStore(), journal.Options{
			Escalator: journal.EscalatorFunc(func(context.Context, domain.ErrorRecord) error {
				panic("nil client")
			}),
		})
		if _, err := j.LogError(ctx, record("boom", domain.SeverityCritical)); err != nil {
			t.Fatal(err)
		}
		if st := j.Statistics(0); st.Total != 1 {
			t.Fatalf("expected 1 record, got %d", st.Total)
		}
	})
}

func TestJournal_ResolveAndClear(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	j := openJournal(t, store, journal.Options{})

	a, _ := j.LogError(ctx, record("a", domain.SeverityMedium))
	b, _ := j.LogError(ctx, record("b", domain.SeverityMedium))

	if err := j.MarkResolved(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := j.MarkResolved(ctx, a); err != nil {
		t.Fatalf("resolving twice must be harmless: %v", err)
	}
	if err := j.MarkResolved(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st := j.Statistics(0)
	if st.Total != 2 || st.Unresolved != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	n, err := j.ClearResolved(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 cleared, got %d err=%v", n, err)
	}
	if _, err := j.Get(b); err != nil {
		t.Fatal("unresolved record must survive clear")
	}

	// Reopen from the same store: state must match.
	j2 := openJournal(t, store, journal.Options{})
	if st := j2.Statistics(0); st.Total != 1 || st.Recent[0].ID != b {
		t.Fatalf("unexpected journal after reopen: %+v", st)
	}
}

func TestJournal_StatisticsCounts(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, repository.NewMemoryStore(), journal.Options{})

	_, _ = j.LogError(ctx, domain.ErrorRecord{Category: domain.CategoryAPI, Severity: domain.SeverityMedium})
	_, _ = j.LogError(ctx, domain.ErrorRecord{Category: domain.CategoryAPI, Severity: domain.SeverityMedium})
	_, _ = j.LogError(ctx, domain.ErrorRecord{Category: domain.CategoryIdempotency, Severity: domain.SeverityLow, Resolved: true})

	st := j.Statistics(2)
	if st.ByCategory[domain.CategoryAPI] != 2 || st.ByCategory[domain.CategoryIdempotency] != 1 {
		t.Fatalf("unexpected category counts: %v", st.ByCategory)
	}
	if st.BySeverity[domain.SeverityMedium] != 2 || st.BySeverity[domain.SeverityCritical] != 0 {
		t.Fatalf("unexpected severity counts: %v", st.BySeverity)
	}
	if st.Unresolved != 2 || len(st.Recent) != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestJournal_ReportClassifies(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t, repository.NewMemoryStore(), journal.Options{})

	tests := []struct {
		err  error
		want domain.Category
	}{
		{fmt.Errorf("submit: %w", domain.ErrNetwork), domain.CategoryNetwork},
		{fmt.Errorf("enqueue: %w", domain.ErrQueueFull), domain.CategoryQueueCapacity},
		{fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInvalidKind), domain.CategoryValidation},
		{errors.New("500 from booking api"), domain.CategoryAPI},
	}
	for _, tt := range tests {
		id, err := j.Report(ctx, tt.err, domain.SeverityHigh, domain.ErrorContext{Screen: "checkout"})
		if err != nil {
			t.Fatal(err)
		}
		rec, _ := j.Get(id)
		if rec.Category != tt.want || rec.Context.Screen != "checkout" || rec.UserImpact != domain.ImpactModerate {
			t.Fatalf("%v: unexpected record %+v", tt.err, rec)
		}
	}

	if id, err := j.Report(ctx, nil, domain.SeverityLow, domain.ErrorContext{}); id != "" || err != nil {
		t.Fatal("nil error must not be journaled")
	}
}

func TestJournal_AppendFailureLeavesStateUnchanged(t *testing.T) {
	store := repository.NewMemoryStore()
	j := openJournal(t, store, journal.Options{})
	store.AppendErr = errors.New("disk full")

	if _, err := j.LogError(context.Background(), record("x", domain.SeverityLow)); err == nil {
		t.Fatal("expected append error")
	}
	if st := j.Statistics(0); st.Total != 0 {
		t.Fatalf("failed append must not reach memory, total=%d", st.Total)
	}
}

func TestJournal_OpenTrimsToCapacity(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	j := openJournal(t, store, journal.Options{Capacity: 10})
	for i := 0; i < 6; i++ {
		_, _ = j.LogError(ctx, record(fmt.Sprintf("e%d", i), domain.SeverityLow))
	}

	smaller := openJournal(t, store, journal.Options{Capacity: 4})
	if st := smaller.Statistics(0); st.Total != 4 || st.Recent[3].Message != "e2" {
		t.Fatalf("expected newest 4 records kept, got %+v", st)
	}
}
