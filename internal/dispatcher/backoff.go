package dispatcher

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultBackoffBase = time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// Backoff computes retry delays: Base * 2^retryCount, capped at Max.
//
//	retry 0 → 1s, 1 → 2s, 2 → 4s, 3 → 8s, 4 → 16s, 5+ → 30s (defaults)
//
// Jitter in [0, 1] spreads each delay uniformly over ±Jitter of its value,
// never above Max. Zero keeps delays exact.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before the next attempt of an item that has
// already been retried retryCount times.
func (b Backoff) Delay(retryCount int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffMax
	}
	if retryCount < 0 {
		retryCount = 0
	}

	delay := float64(base) * math.Pow(2, float64(retryCount))
	if delay > float64(ceiling) {
		delay = float64(ceiling)
	}

	if b.Jitter > 0 {
		j := math.Min(b.Jitter, 1)
		delay += delay * j * (2*rand.Float64() - 1)
		if delay > float64(ceiling) {
			delay = float64(ceiling)
		}
	}
	return time.Duration(delay)
}
