package dispatcher

import (
	"context"
	"sync"

	"github.com/ricirt/offline-sync/internal/domain"
)

// pool runs one claimed batch across at most size goroutines and waits for
// all of them. Each item is handed to exactly one goroutine.
type pool struct {
	size int
	work func(ctx context.Context, item *domain.QueueItem)
}

func (p pool) run(ctx context.Context, batch []*domain.QueueItem) {
	n := p.size
	if n > len(batch) {
		n = len(batch)
	}
	if n <= 0 {
		return
	}

	items := make(chan *domain.QueueItem)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range items {
				p.work(ctx, it)
			}
		}()
	}

	for _, it := range batch {
		items <- it
	}
	close(items)
	wg.Wait()
}
