package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
)

// MemoryStore is a hand-written, in-memory implementation of Store used in
// unit tests and by the "memory" store driver. Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	operations  map[string]*domain.QueueItem
	errors      map[string]*domain.ErrorRecord
	errorSeq    map[string]int64
	nextSeq     int64
	idempotency map[string]time.Time

	// Optional error overrides. Set in tests to simulate failure paths.
	InsertErr error
	UpdateErr error
	DeleteErr error
	AppendErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operations:  make(map[string]*domain.QueueItem),
		errors:      make(map[string]*domain.ErrorRecord),
		errorSeq:    make(map[string]int64),
		idempotency: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) LoadOperations(_ context.Context) ([]*domain.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*domain.QueueItem, 0, len(m.operations))
	for _, it := range m.operations {
		clone := *it
		items = append(items, &clone)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j]) })
	return items, nil
}

func (m *MemoryStore) InsertOperation(_ context.Context, item *domain.QueueItem) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *item
	m.operations[item.ID] = &clone
	return nil
}

func (m *MemoryStore) ReplaceOperation(_ context.Context, evictID string, item *domain.QueueItem) error {
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, evictID)
	clone := *item
	m.operations[item.ID] = &clone
	return nil
}

func (m *MemoryStore) UpdateOperation(_ context.Context, item *domain.QueueItem) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operations[item.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *item
	m.operations[item.ID] = &clone
	return nil
}

func (m *MemoryStore) DeleteOperation(_ context.Context, id string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.operations, id)
	return nil
}

func (m *MemoryStore) ResetInFlight(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.operations {
		if it.State == domain.StateInFlight {
			it.State = domain.StatePending
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LoadErrors(_ context.Context) ([]*domain.ErrorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*domain.ErrorRecord, 0, len(m.errors))
	for _, rec := range m.errors {
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return m.errorSeq[records[i].ID] < m.errorSeq[records[j].ID]
	})
	return records, nil
}

func (m *MemoryStore) AppendError(_ context.Context, rec *domain.ErrorRecord, evictIDs []string) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range evictIDs {
		delete(m.errors, id)
		delete(m.errorSeq, id)
	}
	m.nextSeq++
	clone := *rec
	m.errors[rec.ID] = &clone
	m.errorSeq[rec.ID] = m.nextSeq
	return nil
}

func (m *MemoryStore) MarkErrorResolved(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.errors[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Resolved = true
	return nil
}

func (m *MemoryStore) DeleteErrors(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.errors, id)
		delete(m.errorSeq, id)
	}
	return nil
}

func (m *MemoryStore) IsCompleted(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.idempotency[key]
	return ok, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, key string, _ domain.Kind, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idempotency[key]; !ok {
		m.idempotency[key] = at
	}
	return nil
}

// compile-time checks that both implementations satisfy Store
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*sqliteStore)(nil)
)
