package queue

import (
	"container/heap"
	"time"
)

// retryEntry is one armed retry. Entries are never removed eagerly: when an
// item is acked or rescheduled again its old entry goes stale and is
// discarded the next time it reaches the top of the heap.
type retryEntry struct {
	id  string
	due time.Time
}

// retrySchedule is a min-heap of retry deadlines. It lets the dispatcher keep
// a single timer for the earliest due retry instead of one timer per item.
type retrySchedule []retryEntry

func (s retrySchedule) Len() int           { return len(s) }
func (s retrySchedule) Less(i, j int) bool { return s[i].due.Before(s[j].due) }
func (s retrySchedule) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

func (s *retrySchedule) Push(x any) { *s = append(*s, x.(retryEntry)) }

func (s *retrySchedule) Pop() any {
	old := *s
	n := len(old)
	e := old[n-1]
	*s = old[:n-1]
	return e
}

func (s *retrySchedule) arm(id string, due time.Time) {
	heap.Push(s, retryEntry{id: id, due: due})
}

// peek drops stale entries until the top one satisfies live, then returns it.
func (s *retrySchedule) peek(live func(retryEntry) bool) (retryEntry, bool) {
	for s.Len() > 0 {
		top := (*s)[0]
		if live(top) {
			return top, true
		}
		heap.Pop(s)
	}
	return retryEntry{}, false
}
