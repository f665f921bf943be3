package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/ricirt/offline-sync/internal/domain"
)

// Registry resolves the strategy for a queued operation. The first
// registered strategy whose CanHandle accepts the kind wins.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

// For returns the strategy for k.
func (r *Registry) For(k domain.Kind) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		if s.CanHandle(k) {
			return s, true
		}
	}
	return nil, false
}

// Replay dispatches item to its strategy. A kind nobody handles is a
// permanent failure: retrying cannot make a handler appear.
func (r *Registry) Replay(ctx context.Context, item *domain.QueueItem) Outcome {
	s, ok := r.For(item.Kind)
	if !ok {
		return Permanent(fmt.Sprintf("no recovery strategy for kind %q", item.Kind), domain.ErrInvalidKind)
	}
	return s.Replay(ctx, item)
}

// Kinds reports which kinds have a strategy.
func (r *Registry) Kinds() []domain.Kind {
	var out []domain.Kind
	for _, k := range domain.Kinds {
		if _, ok := r.For(k); ok {
			out = append(out, k)
		}
	}
	return out
}
