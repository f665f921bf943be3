package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ricirt/offline-sync/internal/domain"
)

// KindLimiters holds one token bucket per operation kind so a backlog of
// telemetry cannot crowd a just-recovered link ahead of payments.
// Burst equals the rate: no saved-up burst above the per-second maximum.
type KindLimiters struct {
	limiters map[domain.Kind]*rate.Limiter
}

// New creates limiters for every kind. perKind overrides defaultRate;
// a rate <= 0 leaves that kind unlimited.
func New(defaultRate int, perKind map[domain.Kind]int) *KindLimiters {
	kl := &KindLimiters{limiters: make(map[domain.Kind]*rate.Limiter, len(domain.Kinds))}
	for _, k := range domain.Kinds {
		r := defaultRate
		if n, ok := perKind[k]; ok {
			r = n
		}
		if r <= 0 {
			kl.limiters[k] = rate.NewLimiter(rate.Inf, 0)
			continue
		}
		kl.limiters[k] = rate.NewLimiter(rate.Limit(r), r)
	}
	return kl
}

// Wait blocks until the kind's limiter grants a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (kl *KindLimiters) Wait(ctx context.Context, k domain.Kind) error {
	l, ok := kl.limiters[k]
	if !ok {
		return nil
	}
	return l.Wait(ctx)
}
