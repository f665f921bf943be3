package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/config"
	"github.com/ricirt/offline-sync/internal/connectivity"
	"github.com/ricirt/offline-sync/internal/dispatcher"
	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/journal"
	"github.com/ricirt/offline-sync/internal/metrics"
	"github.com/ricirt/offline-sync/internal/queue"
	"github.com/ricirt/offline-sync/internal/ratelimiter"
	"github.com/ricirt/offline-sync/internal/repository"
)

// Deps are the collaborators a SyncService is built from. Only Store and
// Replayer are required.
type Deps struct {
	Store     repository.Store
	Replayer  dispatcher.Replayer
	Probe     connectivity.Probe
	Escalator journal.Escalator
	Metrics   *metrics.Metrics
	Clock     dispatcher.Clock
}

// SubmitResult tells a producer what happened to a submitted operation.
type SubmitResult struct {
	// Queued is true when the operation was stored for later replay.
	Queued      bool   `json:"queued"`
	OperationID string `json:"operation_id,omitempty"`
}

// SyncService is one subsystem instance. It owns the queue, journal,
// monitor and dispatcher, and is the only thing producers, the UI and the
// HTTP handlers talk to.
type SyncService struct {
	q       *queue.Queue
	j       *journal.Journal
	monitor *connectivity.Monitor
	d       *dispatcher.Dispatcher
	m       *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New restores persisted state and wires the subsystem together. Nothing
// runs in the background until Start is called.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*SyncService, error) {
	if deps.Store == nil || deps.Replayer == nil {
		return nil, errors.New("service: store and replayer are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = dispatcher.SystemClock{}
	}

	s := &SyncService{m: deps.Metrics, logger: logger}

	q, err := queue.Open(ctx, deps.Store, queue.Options{
		Capacity:   cfg.QueueCapacity,
		MaxRetries: cfg.MaxRetries,
		Now:        clock.Now,
	}, logger.With(zap.String("component", "queue")))
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}

	jopts := journal.Options{
		Capacity:  cfg.JournalCapacity,
		Escalator: deps.Escalator,
		Now:       clock.Now,
	}
	mopts := connectivity.Options{
		Debounce:     cfg.DebounceWindow,
		PollInterval: cfg.PollInterval,
		Probe:        deps.Probe,
		Now:          clock.Now,
		OnChange:     s.onConnectivity,
	}
	hooks := dispatcher.MetricHooks{}
	if s.m != nil {
		jopts.OnRecord = s.m.ObserveRecord
		hooks.OnReplay, hooks.OnExhausted, hooks.OnDrain = s.m.DispatcherHooks()
		hooks.OnQueueChange = s.m.ObserveQueue
	}

	j, err := journal.Open(ctx, deps.Store, jopts, logger.With(zap.String("component", "journal")))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	s.q = q
	s.j = j
	s.monitor = connectivity.NewMonitor(mopts, logger.With(zap.String("component", "connectivity")))
	s.d = dispatcher.New(q, deps.Replayer, j, s.monitor, dispatcher.Options{
		Workers:          cfg.Workers,
		BatchSize:        cfg.BatchSize,
		InterBatchDelay:  cfg.InterBatchDelay,
		FallbackInterval: cfg.FallbackInterval,
		ReplayTimeout:    cfg.ReplayTimeout,
		Backoff: dispatcher.Backoff{
			Base:   cfg.BackoffBase,
			Max:    cfg.BackoffMax,
			Jitter: cfg.BackoffJitter,
		},
		Clock:   clock,
		Limiter: ratelimiter.New(0, cfg.RateLimits),
		Hooks:   hooks,
	}, logger.With(zap.String("component", "dispatcher")))

	s.observeQueue()
	return s, nil
}

// Start launches the connectivity monitor and the dispatch loop.
func (s *SyncService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrShutdown
	}
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	transitions, unsubscribe := s.monitor.Subscribe(0)
	outages, unwatch := s.monitor.Subscribe(0)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.monitor.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		defer unsubscribe()
		s.d.Run(runCtx, transitions)
	}()
	go func() {
		defer wg.Done()
		defer unwatch()
		s.journalOutages(runCtx, outages)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	s.started = true
	s.cancel = cancel
	s.done = done
	s.logger.Info("sync service started", zap.Int("queued", s.q.Len()))
	return nil
}

// Shutdown stops the background loops. In-flight replays are allowed to
// finish; Shutdown waits for them until ctx expires. Calling it twice is safe.
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("sync service stopped", zap.Int("queued", s.q.Len()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

func (s *SyncService) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Enqueue validates and durably stores an operation for later replay.
//
// A malformed request is rejected with an error wrapping domain.ErrValidation
// and journaled as a Low validation record. A full queue either evicts the
// oldest untried lower-priority item (Medium queue_capacity record) or
// rejects with domain.ErrQueueFull (High queue_capacity record).
func (s *SyncService) Enqueue(ctx context.Context, kind domain.Kind, payload json.RawMessage, priority domain.Priority) (string, error) {
	if s.isClosed() {
		return "", domain.ErrShutdown
	}
	if priority == "" {
		priority = domain.PriorityNormal
	}
	ec := domain.ErrorContext{Action: "enqueue", Kind: kind}

	item, evicted, err := s.q.Enqueue(ctx, domain.EnqueueRequest{Kind: kind, Payload: payload, Priority: priority})
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.record(ctx, domain.ErrorRecord{
			Category: domain.CategoryValidation,
			Severity: domain.SeverityLow,
			Message:  err.Error(),
			Context:  ec,
		})
		return "", err
	case errors.Is(err, domain.ErrQueueFull):
		if s.m != nil {
			s.m.EnqueueRejections.Inc()
		}
		s.record(ctx, domain.ErrorRecord{
			Category:   domain.CategoryQueueCapacity,
			Severity:   domain.SeverityHigh,
			Message:    fmt.Sprintf("%s %s operation rejected: %v", priority, kind, err),
			Context:    ec,
			UserImpact: domain.ImpactSevere,
		})
		return "", err
	case err != nil:
		return "", err
	}

	if evicted != nil {
		if s.m != nil {
			s.m.Evictions.Inc()
		}
		s.record(ctx, domain.ErrorRecord{
			Category: domain.CategoryQueueCapacity,
			Severity: domain.SeverityMedium,
			Message: fmt.Sprintf("%s %s operation evicted to admit %s %s",
				evicted.Priority, evicted.Kind, item.Priority, item.Kind),
			Context:    domain.ErrorContext{Action: "evict", OperationID: evicted.ID, Kind: evicted.Kind},
			UserImpact: domain.ImpactMinor,
		})
	}

	s.observeQueue()
	s.logger.Info("operation queued",
		zap.String("operation_id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.String("priority", string(item.Priority)),
	)
	if s.online() {
		s.d.Trigger()
	}
	return item.ID, nil
}

// Submit is the producer side of the offline flow. While online it runs
// attempt directly; if the device is offline, or attempt fails because the
// backend could not be reached, the operation is enqueued instead. Any other
// error from attempt is returned unchanged.
func (s *SyncService) Submit(
	ctx context.Context,
	kind domain.Kind,
	payload json.RawMessage,
	priority domain.Priority,
	attempt func(ctx context.Context) error,
) (SubmitResult, error) {
	var cause error
	if s.online() && attempt != nil {
		cause = attempt(ctx)
		if cause == nil {
			return SubmitResult{}, nil
		}
		if !domain.IsConnectivityError(cause) {
			return SubmitResult{}, cause
		}
		s.logger.Info("direct attempt failed, deferring operation",
			zap.String("kind", string(kind)),
			zap.Error(cause),
		)
	}

	id, err := s.Enqueue(ctx, kind, payload, priority)
	if err != nil {
		return SubmitResult{}, err
	}
	if cause != nil {
		s.record(ctx, domain.ErrorRecord{
			Category:   domain.CategoryNetwork,
			Severity:   domain.SeverityLow,
			Message:    fmt.Sprintf("%s deferred for later sync: %v", kind, cause),
			Context:    domain.ErrorContext{Action: "submit", OperationID: id, Kind: kind},
			UserImpact: domain.ImpactMinor,
		})
	}
	return SubmitResult{Queued: true, OperationID: id}, nil
}

// CancelOperation removes a queued operation that is not being replayed.
func (s *SyncService) CancelOperation(ctx context.Context, id string) error {
	if err := s.q.Remove(ctx, id); err != nil {
		return err
	}
	s.observeQueue()
	s.logger.Info("operation cancelled", zap.String("operation_id", id))
	return nil
}

func (s *SyncService) ListOperations() []domain.QueueItem {
	return s.q.Snapshot()
}

func (s *SyncService) GetConnectivity() domain.ConnectivityState {
	return s.monitor.Status()
}

// ObserveConnectivity feeds a platform link observation to the monitor.
func (s *SyncService) ObserveConnectivity(raw domain.RawLink) {
	s.monitor.Observe(raw)
}

func (s *SyncService) GetQueueStatus() domain.QueueStatus {
	return s.q.Status()
}

// QueueDepths returns the number of queued items per priority tier.
func (s *SyncService) QueueDepths() (high, normal, low int) {
	return s.q.Depths()
}

func (s *SyncService) GetErrorStatistics(recent int) domain.ErrorStatistics {
	return s.j.Statistics(recent)
}

func (s *SyncService) GetError(id string) (domain.ErrorRecord, error) {
	return s.j.Get(id)
}

func (s *SyncService) MarkErrorResolved(ctx context.Context, id string) error {
	return s.j.MarkResolved(ctx, id)
}

func (s *SyncService) ClearResolvedErrors(ctx context.Context) (int, error) {
	return s.j.ClearResolved(ctx)
}

// ReportError journals a failure raised outside the queue, for example by a
// screen that failed to render cached data.
func (s *SyncService) ReportError(ctx context.Context, err error, severity domain.Severity, ec domain.ErrorContext) (string, error) {
	return s.j.Report(ctx, err, severity, ec)
}

// TriggerSyncNow asks for an immediate drain. With wait set it runs the
// drain on the caller's goroutine and returns its result; otherwise it hands
// the request to the dispatch loop and returns at once.
func (s *SyncService) TriggerSyncNow(ctx context.Context, wait bool) (*dispatcher.DrainResult, error) {
	if s.isClosed() {
		return nil, domain.ErrShutdown
	}
	if wait {
		res := s.d.Drain(ctx)
		s.observeQueue()
		return &res, nil
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, domain.ErrNotStarted
	}
	s.d.Trigger()
	return nil, nil
}

// SetOfflineMode pauses or resumes replay. Producers can keep enqueueing.
func (s *SyncService) SetOfflineMode(on bool) {
	s.d.SetOfflineMode(on)
}

func (s *SyncService) OfflineMode() bool {
	return s.d.OfflineMode()
}

func (s *SyncService) online() bool {
	return s.monitor.Status().Connected && !s.d.OfflineMode()
}

func (s *SyncService) onConnectivity(st domain.ConnectivityState) {
	if s.m != nil {
		s.m.ObserveConnectivity(st)
	}
}

// journalOutages writes a Low network record each time the debounced state
// drops from connected to disconnected. It runs off the monitor goroutine so
// a slow journal write never delays a publish.
func (s *SyncService) journalOutages(ctx context.Context, transitions <-chan connectivity.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if !tr.Previous.Connected || tr.Current.Connected {
				continue
			}
			s.record(ctx, domain.ErrorRecord{
				Category: domain.CategoryNetwork,
				Severity: domain.SeverityLow,
				Message: fmt.Sprintf("connection lost on %s with %d operations queued",
					tr.Previous.Transport, s.q.Len()),
				Context:    domain.ErrorContext{Action: "connectivity"},
				UserImpact: domain.ImpactMinor,
			})
		}
	}
}

func (s *SyncService) observeQueue() {
	if s.m != nil {
		s.m.ObserveQueue(s.q.Depths())
	}
}

func (s *SyncService) record(ctx context.Context, rec domain.ErrorRecord) {
	if _, err := s.j.LogError(ctx, rec); err != nil {
		s.logger.Error("failed to journal error", zap.Error(err))
	}
}
