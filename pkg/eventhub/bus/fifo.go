package bus

import (
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
)

// FIFO is an insertion-order circular-buffer bus. Enqueue never blocks: a
// full FIFO bus rejects with ErrQueueFull rather than waiting for space,
// since the Queue layer above owns blocking semantics for its consumer
// loop. Dequeue/Peek gate on the head event's retryAt (if any), the same
// eligibility rule Priority applies via its composite key: a retried event
// is never redelivered before its retryAt even though FIFO storage doesn't
// otherwise reorder. Since a re-enqueued event rejoins at the tail, nothing
// behind an ineligible head could have been dequeued ahead of it anyway, so
// the head-only check doesn't starve already-eligible events.
type FIFO struct {
	mu       sync.Mutex
	buf      []*eventhub.Event
	head     int
	count    int
	capacity int
	dedup    *Dedup
}

// NewFIFO creates a FIFO bus with the given capacity. If dedup is non-nil,
// Enqueue rejects events whose id was recently seen.
func NewFIFO(capacity int, dedup *Dedup) *FIFO {
	if capacity <= 0 {
		capacity = 1
	}
	return &FIFO{
		buf:      make([]*eventhub.Event, capacity),
		capacity: capacity,
		dedup:    dedup,
	}
}

func (f *FIFO) Enqueue(e *eventhub.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count == f.capacity {
		return eventhub.ErrQueueFull("Enqueue", "fifo bus at capacity")
	}
	if f.dedup != nil && f.dedup.SeenAndMark(e.ID) {
		return eventhub.ErrInvalid("Enqueue", "duplicate event id: "+e.ID)
	}
	tail := (f.head + f.count) % f.capacity
	f.buf[tail] = e
	f.count++
	return nil
}

func (f *FIFO) Dequeue() (*eventhub.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		return nil, false
	}
	e := f.buf[f.head]
	if retryAt, ok := e.RetryAt(); ok && retryAt.After(time.Now()) {
		return nil, false
	}
	f.buf[f.head] = nil
	f.head = (f.head + 1) % f.capacity
	f.count--
	return e, true
}

func (f *FIFO) Peek() (*eventhub.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == 0 {
		return nil, false
	}
	e := f.buf[f.head]
	if retryAt, ok := e.RetryAt(); ok && retryAt.After(time.Now()) {
		return nil, false
	}
	return e, true
}

func (f *FIFO) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *FIFO) IsEmpty() bool {
	return f.Size() == 0
}

func (f *FIFO) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.buf {
		f.buf[i] = nil
	}
	f.head, f.count = 0, 0
}
