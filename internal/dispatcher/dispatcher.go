// Package dispatcher drains the operation queue when the device is online,
// applying the retry and backoff policy to every replayed item.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/connectivity"
	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/queue"
	"github.com/ricirt/offline-sync/internal/strategy"
)

const (
	DefaultWorkers          = 3
	DefaultFallbackInterval = 30 * time.Second
	DefaultReplayTimeout    = 15 * time.Second
)

// Clock supplies the time used for backoff deadlines.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the system time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Replayer resolves and runs the recovery strategy for an item.
type Replayer interface {
	Replay(ctx context.Context, item *domain.QueueItem) strategy.Outcome
}

// Recorder is the part of the error journal the dispatcher writes to.
type Recorder interface {
	LogError(ctx context.Context, rec domain.ErrorRecord) (string, error)
}

// Limiter throttles replays per kind.
type Limiter interface {
	Wait(ctx context.Context, k domain.Kind) error
}

// Connectivity reports the debounced network state.
type Connectivity interface {
	Status() domain.ConnectivityState
}

// MetricHooks carries the metric callback functions injected by main.
// Any nil hook is a no-op.
type MetricHooks struct {
	OnReplay      func(kind domain.Kind, outcome string, latency time.Duration)
	OnExhausted   func(kind domain.Kind)
	OnDrain       func()
	OnQueueChange func(high, normal, low int)
}

// Options configures a Dispatcher. Zero values fall back to defaults.
type Options struct {
	Workers   int
	BatchSize int
	// InterBatchDelay pauses between batches of one drain. Zero disables it.
	InterBatchDelay  time.Duration
	FallbackInterval time.Duration
	ReplayTimeout    time.Duration
	Backoff          Backoff
	Clock            Clock
	Limiter          Limiter
	Hooks            MetricHooks
}

// DrainResult summarises one drain cycle.
type DrainResult struct {
	Started    bool   `json:"started"`
	Skipped    string `json:"skipped,omitempty"`
	Batches    int    `json:"batches"`
	Claimed    int    `json:"claimed"`
	Succeeded  int    `json:"succeeded"`
	Duplicates int    `json:"duplicates"`
	Retried    int    `json:"retried"`
	Permanent  int    `json:"permanent"`
	Exhausted  int    `json:"exhausted"`
	Released   int    `json:"released"`
}

// Dispatcher owns the single dispatch loop of a subsystem instance.
// Drain cycles never overlap; within a cycle at most Workers items are
// in flight.
type Dispatcher struct {
	q        *queue.Queue
	replayer Replayer
	journal  Recorder
	conn     Connectivity
	limiter  Limiter
	logger   *zap.Logger
	hooks    MetricHooks
	clock    Clock
	backoff  Backoff

	workers         int
	batchSize       int
	interBatchDelay time.Duration
	fallback        time.Duration
	replayTimeout   time.Duration

	offline atomic.Bool
	trigger chan struct{}
	rearm   chan struct{}

	drainMu  sync.Mutex
	resultMu sync.Mutex
	current  *DrainResult
}

func New(
	q *queue.Queue,
	replayer Replayer,
	journal Recorder,
	conn Connectivity,
	opts Options,
	logger *zap.Logger,
) *Dispatcher {
	d := &Dispatcher{
		q:               q,
		replayer:        replayer,
		journal:         journal,
		conn:            conn,
		limiter:         opts.Limiter,
		logger:          logger,
		hooks:           opts.Hooks,
		clock:           opts.Clock,
		backoff:         opts.Backoff,
		workers:         opts.Workers,
		batchSize:       opts.BatchSize,
		interBatchDelay: opts.InterBatchDelay,
		fallback:        opts.FallbackInterval,
		replayTimeout:   opts.ReplayTimeout,
		trigger:         make(chan struct{}, 1),
		rearm:           make(chan struct{}, 1),
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.batchSize <= 0 {
		d.batchSize = d.workers
	}
	if d.interBatchDelay < 0 {
		d.interBatchDelay = 0
	}
	if d.fallback <= 0 {
		d.fallback = DefaultFallbackInterval
	}
	if d.replayTimeout <= 0 {
		d.replayTimeout = DefaultReplayTimeout
	}
	if d.clock == nil {
		d.clock = SystemClock{}
	}
	if d.limiter == nil {
		d.limiter = noLimit{}
	}
	if d.hooks.OnReplay == nil {
		d.hooks.OnReplay = func(domain.Kind, string, time.Duration) {}
	}
	if d.hooks.OnExhausted == nil {
		d.hooks.OnExhausted = func(domain.Kind) {}
	}
	if d.hooks.OnDrain == nil {
		d.hooks.OnDrain = func() {}
	}
	if d.hooks.OnQueueChange == nil {
		d.hooks.OnQueueChange = func(int, int, int) {}
	}
	return d
}

type noLimit struct{}

func (noLimit) Wait(context.Context, domain.Kind) error { return nil }

// Trigger requests a drain from the dispatch loop without waiting for it.
// Repeated calls before the loop picks one up collapse into one drain.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// SetOfflineMode pauses or resumes draining. Enqueues are unaffected.
// Leaving offline mode triggers a drain.
func (d *Dispatcher) SetOfflineMode(on bool) {
	if d.offline.Swap(on) == on {
		return
	}
	d.logger.Info("offline mode changed", zap.Bool("offline_mode", on))
	if !on {
		d.Trigger()
	}
}

func (d *Dispatcher) OfflineMode() bool { return d.offline.Load() }

// Run is the dispatch loop. It drains on each debounced online transition,
// on every fallback tick while online with work queued, on Trigger, and when
// the earliest retry becomes due. It returns when ctx is cancelled; a drain
// in progress stops claiming new batches and its in-flight replays finish.
func (d *Dispatcher) Run(ctx context.Context, transitions <-chan connectivity.Transition) {
	ticker := time.NewTicker(d.fallback)
	defer ticker.Stop()

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	d.logger.Info("dispatcher started",
		zap.Int("workers", d.workers),
		zap.Duration("fallback_interval", d.fallback),
	)
	d.armRetry(retry)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case tr, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if tr.CameOnline() {
				d.logger.Info("connectivity restored, draining queue")
				d.Drain(ctx)
			}
		case <-ticker.C:
			if d.q.Len() > 0 {
				d.Drain(ctx)
			}
		case <-d.trigger:
			d.Drain(ctx)
		case <-retry.C:
			d.Drain(ctx)
		case <-d.rearm:
			d.armRetry(retry)
		}
	}
}

// armRetry points the single retry timer at the earliest pending deadline.
// While draining is blocked the timer stays stopped; the next transition or
// Trigger drains and re-arms it.
func (d *Dispatcher) armRetry(t *time.Timer) {
	t.Stop()
	if d.blocked() != "" {
		return
	}
	due, ok := d.q.NextDue()
	if !ok {
		return
	}
	wait := due.Sub(d.clock.Now())
	if wait < 0 {
		wait = 0
	}
	t.Reset(wait)
}

// Drain runs one drain cycle and returns when it is complete. It claims
// batches until nothing is ready, the device goes offline, or ctx is
// cancelled. Calls are serialised.
func (d *Dispatcher) Drain(ctx context.Context) DrainResult {
	d.drainMu.Lock()
	defer d.drainMu.Unlock()
	defer d.signalRearm()

	if reason := d.blocked(); reason != "" {
		d.logger.Debug("drain skipped", zap.String("reason", reason))
		return DrainResult{Skipped: reason}
	}

	res := &DrainResult{Started: true}
	d.resultMu.Lock()
	d.current = res
	d.resultMu.Unlock()
	defer func() {
		d.resultMu.Lock()
		d.current = nil
		d.resultMu.Unlock()
	}()

	d.hooks.OnDrain()
	p := pool{size: d.workers, work: d.process}

	for ctx.Err() == nil {
		if reason := d.blocked(); reason != "" {
			d.logger.Info("drain interrupted", zap.String("reason", reason))
			break
		}

		batch, err := d.q.DequeueBatch(ctx, d.batchSize, d.clock.Now())
		if err != nil {
			d.logger.Error("claim batch failed", zap.Error(err))
		}
		if len(batch) == 0 {
			break
		}
		d.resultMu.Lock()
		res.Batches++
		res.Claimed += len(batch)
		released := res.Released
		d.resultMu.Unlock()

		p.run(ctx, batch)
		d.hooks.OnQueueChange(d.q.Depths())

		// Released items are ready again at once; stop rather than spin on them.
		d.resultMu.Lock()
		released = res.Released - released
		d.resultMu.Unlock()
		if err != nil || released > 0 || !sleepCtx(ctx, d.interBatchDelay) {
			break
		}
	}

	d.resultMu.Lock()
	out := *res
	d.resultMu.Unlock()

	if out.Claimed > 0 {
		d.logger.Info("drain cycle finished",
			zap.Int("claimed", out.Claimed),
			zap.Int("succeeded", out.Succeeded+out.Duplicates),
			zap.Int("retried", out.Retried),
			zap.Int("dropped", out.Permanent+out.Exhausted),
		)
	}
	return out
}

func (d *Dispatcher) blocked() string {
	if d.offline.Load() {
		return "offline mode"
	}
	if !d.conn.Status().Connected {
		return "offline"
	}
	return ""
}

func (d *Dispatcher) count(f func(*DrainResult)) {
	d.resultMu.Lock()
	defer d.resultMu.Unlock()
	if d.current != nil {
		f(d.current)
	}
}

func (d *Dispatcher) signalRearm() {
	select {
	case d.rearm <- struct{}{}:
	default:
	}
}

func sleepCtx(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
