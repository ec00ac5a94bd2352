// Package bus implements the pure message-storage layer a Queue wraps: a
// FIFO ring buffer and a priority heap, both satisfying the same Bus
// contract, plus an optional deduplication window.
//
// Neither variant carries consumer, metrics, or ack state - that belongs to
// pkg/eventhub/queue.Queue.
package bus

import "github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"

// Bus is the storage contract both the FIFO and priority implementations
// satisfy.
type Bus interface {
	// Enqueue stores an event. It returns ErrQueueFull when the bus is at
	// capacity, or ErrInvalid when deduplication rejects the id.
	Enqueue(e *eventhub.Event) error

	// Dequeue removes and returns the next eligible event in bus-defined
	// order, or ok=false if none is currently eligible.
	Dequeue() (*eventhub.Event, bool)

	// Peek returns the next eligible event without removing it.
	Peek() (*eventhub.Event, bool)

	Size() int
	IsEmpty() bool
	Clear()
}
