package bus

import (
	"container/heap"
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
)

// pqItem wraps an Event with the composite ordering key (retryAt, priority,
// timestamp, id) the spec requires: retry-delay correctness first, then
// HIGH < NORMAL < LOW priority, then earliest timestamp, then smallest id
// for deterministic tie-breaking.
type pqItem struct {
	event   *eventhub.Event
	retryAt time.Time
	index   int
}

type priorityHeap []*pqItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.retryAt.Equal(b.retryAt) {
		return a.retryAt.Before(b.retryAt)
	}
	if a.event.Priority != b.event.Priority {
		return a.event.Priority < b.event.Priority
	}
	if !a.event.Timestamp.Equal(b.event.Timestamp) {
		return a.event.Timestamp.Before(b.event.Timestamp)
	}
	return a.event.ID < b.event.ID
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Priority is a binary-heap bus keyed on (retryAt, priority, timestamp, id),
// generalized from pkg/datastructures/queue/delay.Queue's single-key
// ReadyTime heap to the spec's composite retry-aware key.
type Priority struct {
	mu       sync.Mutex
	heap     priorityHeap
	capacity int
	dedup    *Dedup
}

func NewPriority(capacity int, dedup *Dedup) *Priority {
	if capacity <= 0 {
		capacity = 1
	}
	return &Priority{capacity: capacity, dedup: dedup}
}

func (p *Priority) Enqueue(e *eventhub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.heap) >= p.capacity {
		return eventhub.ErrQueueFull("Enqueue", "priority bus at capacity")
	}
	if p.dedup != nil && p.dedup.SeenAndMark(e.ID) {
		return eventhub.ErrInvalid("Enqueue", "duplicate event id: "+e.ID)
	}
	retryAt, _ := e.RetryAt()
	heap.Push(&p.heap, &pqItem{event: e, retryAt: retryAt})
	return nil
}

// Dequeue pops the top item only if it is currently eligible (its retryAt,
// if any, has passed). Since the heap orders by retryAt ascending first, an
// ineligible top item implies no item is currently eligible.
func (p *Priority) Dequeue() (*eventhub.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.heap) == 0 {
		return nil, false
	}
	top := p.heap[0]
	if top.retryAt.After(time.Now()) {
		return nil, false
	}
	item := heap.Pop(&p.heap).(*pqItem)
	return item.event, true
}

func (p *Priority) Peek() (*eventhub.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.heap) == 0 {
		return nil, false
	}
	top := p.heap[0]
	if top.retryAt.After(time.Now()) {
		return nil, false
	}
	return top.event, true
}

func (p *Priority) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heap)
}

func (p *Priority) IsEmpty() bool {
	return p.Size() == 0
}

func (p *Priority) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heap = nil
}
