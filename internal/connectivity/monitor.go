// Package connectivity watches the device's network path and publishes
// debounced online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/offline-sync/internal/domain"
)

const (
	DefaultDebounce     = 2 * time.Second
	DefaultPollInterval = 5 * time.Second
	defaultSubBuffer    = 4
)

// Transition is delivered to subscribers when the published state changes.
type Transition struct {
	Previous domain.ConnectivityState `json:"previous"`
	Current  domain.ConnectivityState `json:"current"`
}

// CameOnline reports whether the transition moved the device from
// disconnected to connected.
func (t Transition) CameOnline() bool {
	return t.Current.Connected && !t.Previous.Connected
}

// Options configures a Monitor. Zero values fall back to defaults.
type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	// Probe is polled every PollInterval when set. Observations pushed via
	// Observe are handled the same way.
	Probe Probe
	// OnChange is called from the monitor goroutine after each publish.
	OnChange func(domain.ConnectivityState)
	Now      func() time.Time
}

type subscriber struct {
	ch   chan Transition
	once sync.Once
}

// Monitor classifies raw link observations and publishes a transition only
// once a new state has held for the debounce window. A flap that returns to
// the published state before the window elapses publishes nothing.
type Monitor struct {
	logger   *zap.Logger
	debounce time.Duration
	poll     time.Duration
	probe    Probe
	onChange func(domain.ConnectivityState)
	now      func() time.Time

	wake chan struct{}

	mu        sync.RWMutex
	published domain.ConnectivityState
	latest    *domain.RawLink
	subs      map[int]*subscriber
	nextSub   int
}

// NewMonitor returns a Monitor whose initial published state is offline.
// Call Run to start processing observations.
func NewMonitor(opts Options, logger *zap.Logger) *Monitor {
	m := &Monitor{
		logger:   logger,
		debounce: opts.Debounce,
		poll:     opts.PollInterval,
		probe:    opts.Probe,
		onChange: opts.OnChange,
		now:      opts.Now,
		wake:     make(chan struct{}, 1),
		subs:     make(map[int]*subscriber),
	}
	if m.debounce <= 0 {
		m.debounce = DefaultDebounce
	}
	if m.poll <= 0 {
		m.poll = DefaultPollInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.onChange == nil {
		m.onChange = func(domain.ConnectivityState) {}
	}
	m.published = domain.Classify(domain.RawLink{}, m.now().UTC())
	return m
}

// Status returns the last published state.
func (m *Monitor) Status() domain.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.published
}

// Subscribe registers a listener for state changes. buffer <= 0 uses a small
// default. When the listener falls behind, the oldest undelivered transition
// is dropped so the newest state always gets through and the monitor never
// blocks. The returned func unsubscribes and closes the channel; calling it
// more than once is safe.
func (m *Monitor) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = defaultSubBuffer
	}
	sub := &subscriber{ch: make(chan Transition, buffer)}

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(sub.ch)
			m.mu.Unlock()
		})
	}
}

// Observe feeds a raw observation from the platform. It never blocks: if
// the monitor has not consumed the previous observation yet, the newer one
// replaces it.
func (m *Monitor) Observe(raw domain.RawLink) {
	m.mu.Lock()
	m.latest = &raw
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run processes observations until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var (
		tickC     <-chan time.Time
		debounceC <-chan time.Time
		timer     *time.Timer
		candidate domain.ConnectivityState
		pending   bool
	)
	if m.probe != nil {
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()
		tickC = ticker.C
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		debounceC = nil
		pending = false
	}
	defer stopTimer()

	consider := func(st domain.ConnectivityState) {
		switch {
		case st.SameAs(m.Status()):
			if pending {
				m.logger.Debug("connectivity flap absorbed", zap.Bool("connected", st.Connected))
			}
			stopTimer()
		case pending && st.SameAs(candidate):
			// still holding; let the running timer fire
		default:
			candidate = st
			pending = true
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Stop()
				timer.Reset(m.debounce)
			}
			debounceC = timer.C
		}
	}

	m.logger.Info("connectivity monitor started",
		zap.Duration("debounce", m.debounce),
		zap.Bool("polling", m.probe != nil),
	)
	if m.probe != nil {
		consider(m.sample(ctx))
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopping")
			return
		case <-m.wake:
			m.mu.Lock()
			raw := m.latest
			m.latest = nil
			m.mu.Unlock()
			if raw != nil {
				consider(domain.Classify(*raw, m.now().UTC()))
			}
		case <-tickC:
			consider(m.sample(ctx))
		case <-debounceC:
			debounceC = nil
			pending = false
			m.publish(candidate)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) domain.ConnectivityState {
	raw, err := m.probe.Probe(ctx)
	if err != nil {
		m.logger.Debug("connectivity probe failed", zap.Error(err))
		raw = domain.RawLink{}
	}
	return domain.Classify(raw, m.now().UTC())
}

func (m *Monitor) publish(st domain.ConnectivityState) {
	m.mu.Lock()
	tr := Transition{Previous: m.published, Current: st}
	m.published = st
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		zap.Bool("connected", st.Connected),
		zap.String("transport", string(st.Transport)),
		zap.String("quality", string(st.Quality)),
	)

	m.mu.RLock()
	for _, sub := range m.subs {
		deliver(sub.ch, tr)
	}
	m.mu.RUnlock()

	m.onChange(st)
}

// deliver sends without blocking, dropping the oldest queued transition
// when the buffer is full. Only the monitor goroutine sends.
func deliver(ch chan Transition, tr Transition) {
	select {
	case ch <- tr:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- tr:
	default:
	}
}
