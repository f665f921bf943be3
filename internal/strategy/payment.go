package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ricirt/offline-sync/internal/domain"
	"github.com/ricirt/offline-sync/internal/provider"
	"github.com/ricirt/offline-sync/internal/repository"
)

// PaymentReplay confirms payments without ever charging twice.
//
// The client-generated idempotency key travels with every attempt. Keys that
// completed are recorded locally, so a replay after a crash between the
// gateway call and the queue ack is absorbed here without a network call.
// A gateway that reports the key as already processed is treated the same.
// At most one replay per key is in progress at a time; a concurrent one for
// the same key is retried later, when it finds the key completed.
type PaymentReplay struct {
	backend provider.Backend
	keys    repository.IdempotencyRepository
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewPaymentReplay(b provider.Backend, keys repository.IdempotencyRepository) *PaymentReplay {
	return &PaymentReplay{
		backend:  b,
		keys:     keys,
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
}

func (p *PaymentReplay) Name() string                 { return "payment_replay" }
func (p *PaymentReplay) CanHandle(k domain.Kind) bool { return k == domain.KindPayment }

func (p *PaymentReplay) Replay(ctx context.Context, item *domain.QueueItem) Outcome {
	key := item.IdempotencyKey
	if key == "" {
		return Permanent("payment has no idempotency key", domain.ErrMissingIdemKey)
	}

	if !p.claim(key) {
		return Retry(fmt.Errorf("payment with idempotency key %s is already being confirmed", key))
	}
	defer p.unclaim(key)

	done, err := p.keys.IsCompleted(ctx, key)
	if err != nil {
		return Retry(fmt.Errorf("check idempotency key: %w", err))
	}
	if done {
		return Outcome{Result: Success, Duplicate: true}
	}

	_, err = p.backend.Replay(ctx, requestFor(item))
	out := outcomeOf(err)
	if out.Result != Success {
		return out
	}

	if err := p.keys.MarkCompleted(ctx, key, item.Kind, p.now().UTC()); err != nil {
		// The charge went through; report success regardless. A later replay
		// is still caught by the gateway's own duplicate check.
		out.Err = fmt.Errorf("record idempotency key: %w", err)
	}
	return out
}

func (p *PaymentReplay) claim(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[key]; busy {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

func (p *PaymentReplay) unclaim(key string) {
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
}
