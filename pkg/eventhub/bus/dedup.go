package bus

import (
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/datastructures/bloomfilter"
)

// Dedup tracks recently-seen event ids over a rolling window, generalized
// from pkg/datastructures/bloomfilter.BloomFilter. A single fixed-size
// filter would need to be cleared periodically and would forget ids right
// after a clear; instead this keeps two generations (current + previous)
// and rotates them every Window, so an id added just before a rotation is
// still caught by a lookup just after it, at the cost of roughly 2x the
// false-positive rate of a single filter.
type Dedup struct {
	mu       sync.Mutex
	window   time.Duration
	rotateAt time.Time
	current  *bloomfilter.BloomFilter
	previous *bloomfilter.BloomFilter
	expected uint
}

// NewDedup creates a dedup tracker with the given rolling window and an
// expected-elements hint used to size each generation's Bloom filter.
func NewDedup(window time.Duration, expectedElements uint) *Dedup {
	if window <= 0 {
		window = time.Minute
	}
	if expectedElements == 0 {
		expectedElements = 10000
	}
	return &Dedup{
		window:   window,
		rotateAt: time.Now().Add(window),
		current:  bloomfilter.New(expectedElements, 0.01),
		previous: bloomfilter.New(expectedElements, 0.01),
		expected: expectedElements,
	}
}

// SeenAndMark reports whether id was already seen within the window, marking
// it as seen for future calls either way.
func (d *Dedup) SeenAndMark(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeRotate()

	seen := d.current.ContainsString(id) || d.previous.ContainsString(id)
	d.current.AddString(id)
	return seen
}

func (d *Dedup) maybeRotate() {
	now := time.Now()
	if now.Before(d.rotateAt) {
		return
	}
	d.previous = d.current
	d.current = bloomfilter.New(d.expected, 0.01)
	d.rotateAt = now.Add(d.window)
}
