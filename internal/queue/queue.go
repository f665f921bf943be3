package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/repository"
)

const DefaultCapacity = 100

// Options configures a Queue. Zero values fall back to defaults.
type Options struct {
	Capacity int
	// MaxRetries overrides the per-kind attempt budget.
	MaxRetries map[domain.Kind]int
	Now        func() time.Time
}

// Queue is the bounded, durable, priority-ordered store of pending operations.
//
// An in-memory index serves reads and ordering; every mutation is written
// through the repository while the mutex is held, so the persisted rows and
// the index never disagree and a nil return means the change is durable.
type Queue struct {
	mu       sync.Mutex
	repo     repository.OperationRepository
	logger   *zap.Logger
	capacity int
	budgets  map[domain.Kind]int
	now      func() time.Time

	items   map[string]*domain.QueueItem
	seq     int64
	retries retrySchedule
}

// Open loads persisted operations and returns a ready Queue. Items left
// in_flight by a crash are returned to pending so they are replayed again.
func Open(ctx context.Context, repo repository.OperationRepository, opts Options, logger *zap.Logger) (*Queue, error) {
	q := &Queue{
		repo:     repo,
		logger:   logger,
		capacity: opts.Capacity,
		budgets:  make(map[domain.Kind]int, len(domain.Kinds)),
		now:      opts.Now,
		items:    make(map[string]*domain.QueueItem),
	}
	if q.capacity <= 0 {
		q.capacity = DefaultCapacity
	}
	if q.now == nil {
		q.now = time.Now
	}
	for _, k := range domain.Kinds {
		q.budgets[k] = k.DefaultMaxRetries()
		if n, ok := opts.MaxRetries[k]; ok && n > 0 {
			q.budgets[k] = n
		}
	}

	reset, err := repo.ResetInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset in-flight operations: %w", err)
	}
	items, err := repo.LoadOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}

	now := q.now()
	for _, it := range items {
		q.items[it.ID] = it
		if it.Seq > q.seq {
			q.seq = it.Seq
		}
		if it.NextAttemptAt.After(now) {
			q.retries.arm(it.ID, it.NextAttemptAt)
		}
	}

	if len(items) > 0 || reset > 0 {
		logger.Info("operation queue restored",
			zap.Int("items", len(items)),
			zap.Int("reset_in_flight", reset),
		)
	}
	return q, nil
}

// MaxRetries returns the attempt budget applied to new items of kind k.
func (q *Queue) MaxRetries(k domain.Kind) int {
	return q.budgets[k]
}

// Enqueue validates and durably stores a new operation.
//
// When the queue is full, the oldest untried item with a strictly lower
// priority is evicted and returned. If no such item exists the request is
// rejected with domain.ErrQueueFull and nothing changes.
func (q *Queue) Enqueue(ctx context.Context, req domain.EnqueueRequest) (item, evicted *domain.QueueItem, err error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	item = &domain.QueueItem{
		ID:             uuid.NewString(),
		Seq:            q.seq + 1,
		Kind:           req.Kind,
		Payload:        append([]byte(nil), req.Payload...),
		Priority:       req.Priority,
		State:          domain.StatePending,
		IdempotencyKey: domain.ExtractIdempotencyKey(req.Payload),
		MaxRetries:     q.budgets[req.Kind],
		NextAttemptAt:  now,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}

	if len(q.items) < q.capacity {
		if err := q.repo.InsertOperation(ctx, item); err != nil {
			return nil, nil, fmt.Errorf("persist operation: %w", err)
		}
	} else {
		evicted = q.evictionCandidate(req.Priority)
		if evicted == nil {
			return nil, nil, domain.ErrQueueFull
		}
		if err := q.repo.ReplaceOperation(ctx, evicted.ID, item); err != nil {
			return nil, nil, fmt.Errorf("persist operation: %w", err)
		}
		delete(q.items, evicted.ID)
		evicted = clone(evicted)
	}

	q.seq = item.Seq
	q.items[item.ID] = item
	return clone(item), evicted, nil
}

// evictionCandidate returns the oldest untried item ranked below p, or nil.
func (q *Queue) evictionCandidate(p domain.Priority) *domain.QueueItem {
	var victim *domain.QueueItem
	for _, it := range q.items {
		if !it.Untried() || it.Priority.Rank() >= p.Rank() {
			continue
		}
		if victim == nil || olderThan(it, victim) {
			victim = it
		}
	}
	return victim
}

func olderThan(a, b *domain.QueueItem) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

// DequeueBatch claims up to limit ready items, moving each from pending to
// in_flight. Items come back ordered by priority descending, then FIFO.
// A claimed item is invisible to further DequeueBatch calls until it is
// acked, rescheduled or released.
func (q *Queue) DequeueBatch(ctx context.Context, limit int, now time.Time) ([]*domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ready := make([]*domain.QueueItem, 0, len(q.items))
	for _, it := range q.items {
		if it.Ready(now) {
			ready = append(ready, it)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Before(ready[j]) })
	if len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]*domain.QueueItem, 0, len(ready))
	for _, it := range ready {
		next := *it
		next.State = domain.StateInFlight
		next.UpdatedAt = now.UTC()
		if err := q.repo.UpdateOperation(ctx, &next); err != nil {
			return claimed, fmt.Errorf("claim operation %s: %w", it.ID, err)
		}
		*it = next
		claimed = append(claimed, clone(it))
	}
	return claimed, nil
}

// Ack removes an item after a terminal outcome (success, permanent failure
// or exhaustion). Acking an unknown id returns domain.ErrNotFound.
func (q *Queue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return domain.ErrNotFound
	}
	if err := q.repo.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	delete(q.items, id)
	return nil
}

// Remove cancels a pending item on behalf of a producer or operator.
// An item that is being replayed cannot be removed.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.State == domain.StateInFlight {
		return domain.ErrInFlight
	}
	if err := q.repo.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	delete(q.items, id)
	return nil
}

// Reschedule returns an in-flight item to pending with an updated retry
// count and the time before which it must not be claimed again.
func (q *Queue) Reschedule(ctx context.Context, id string, retryCount int, nextAttemptAt time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.State != domain.StateInFlight {
		return domain.ErrNotInFlight
	}
	if retryCount > it.MaxRetries {
		retryCount = it.MaxRetries
	}

	next := *it
	next.State = domain.StatePending
	next.RetryCount = retryCount
	next.NextAttemptAt = nextAttemptAt.UTC()
	next.LastError = lastErr
	next.UpdatedAt = q.now().UTC()
	if err := q.repo.UpdateOperation(ctx, &next); err != nil {
		return fmt.Errorf("reschedule operation: %w", err)
	}
	*it = next
	q.retries.arm(id, next.NextAttemptAt)
	return nil
}

// Release returns an in-flight item to pending without consuming budget.
// Used when a replay never reached the backend, or when its outcome could
// not be persisted. The claim is dropped from the index even if the write
// fails: an in_flight row is reset to pending on the next Open anyway.
func (q *Queue) Release(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.State != domain.StateInFlight {
		return domain.ErrNotInFlight
	}

	next := *it
	next.State = domain.StatePending
	next.UpdatedAt = q.now().UTC()
	err := q.repo.UpdateOperation(ctx, &next)
	*it = next
	if err != nil {
		return fmt.Errorf("release operation: %w", err)
	}
	return nil
}

// NextDue reports the earliest retry deadline among pending items.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.retries.peek(func(e retryEntry) bool {
		it, ok := q.items[e.id]
		return ok && it.State == domain.StatePending && it.NextAttemptAt.Equal(e.due)
	})
	return e.due, ok
}

// Len returns the number of items in the queue, claimed or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns copies of every item in drain order.
func (q *Queue) Snapshot() []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := make([]*domain.QueueItem, 0, len(q.items))
	for _, it := range q.items {
		ordered = append(ordered, it)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	out := make([]domain.QueueItem, len(ordered))
	for i, it := range ordered {
		out[i] = *clone(it)
	}
	return out
}

// Status summarises the queue for the sync indicator.
func (q *Queue) Status() domain.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := domain.QueueStatus{Size: len(q.items), Capacity: q.capacity}
	var oldest time.Time
	for _, it := range q.items {
		switch it.State {
		case domain.StatePending:
			st.PendingItems++
		case domain.StateInFlight:
			st.InFlightItems++
		}
		if it.Priority == domain.PriorityHigh {
			st.HighPriorityCount++
		}
		if oldest.IsZero() || it.EnqueuedAt.Before(oldest) {
			oldest = it.EnqueuedAt
		}
	}
	if !oldest.IsZero() {
		st.OldestEnqueuedAt = &oldest
	}
	st.Summary = domain.PendingSummary(st.Size)
	return st
}

// Depths returns the number of queued items per priority tier.
func (q *Queue) Depths() (high, normal, low int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		switch it.Priority {
		case domain.PriorityHigh:
			high++
		case domain.PriorityNormal:
			normal++
		default:
			low++
		}
	}
	return high, normal, low
}

func clone(it *domain.QueueItem) *domain.QueueItem {
	c := *it
	c.Payload = append([]byte(nil), it.Payload...)
	return &c
}
