// Package queue implements the point-to-point delivery engine: a Queue
// wraps one message bus and owns single-consumer delivery, ack/nack, retry,
// and metrics. The consumer loop pattern (bounded-backoff poll, wake on
// notify channel) is grounded on pkg/datastructures/queue/delay.Queue.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/bus"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// State is the queue's own lifecycle, separate from the hub's.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

// Handler processes a delivered message. Its return value is treated as an
// implicit Nack(err) if the handler did not already call Ack/Nack.
type Handler func(ctx context.Context, msg *ReceivedMessage) error

// ReceivedMessage wraps one delivered Event with explicit ack/nack controls.
type ReceivedMessage struct {
	Event *eventhub.Event

	mu     sync.Mutex
	acked  bool
	nacked bool
	reason error
}

func (m *ReceivedMessage) Ack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acked && !m.nacked {
		m.acked = true
	}
}

func (m *ReceivedMessage) Nack(reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acked && !m.nacked {
		m.nacked = true
		m.reason = reason
	}
}

func (m *ReceivedMessage) outcome() (acked, nacked bool, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked, m.nacked, m.reason
}

// Queue hosts a single-consumer point-to-point channel on top of a bus.
type Queue struct {
	name   string
	config eventhub.QueueConfig
	bus    bus.Bus
	dedup  *bus.Dedup

	mu         sync.Mutex
	state      State
	hasConsumer bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	notifyCh   chan struct{}

	metrics *Metrics
}

// New constructs a Queue from config, selecting the FIFO or priority bus per
// config.StorageType, and starts it in the running state (queues are
// created eagerly-running, per QueueManager.Create's contract).
func New(config eventhub.QueueConfig) *Queue {
	config = config.WithDefaults()

	var dedup *bus.Dedup
	if config.EnableDeduplication {
		dedup = bus.NewDedup(time.Minute, uint(config.MaxSize))
	}

	var storage bus.Bus
	switch config.StorageType {
	case eventhub.StoragePriority:
		storage = bus.NewPriority(config.MaxSize, dedup)
	default:
		storage = bus.NewFIFO(config.MaxSize, dedup)
	}

	return &Queue{
		name:     config.Name,
		config:   config,
		bus:      storage,
		dedup:    dedup,
		state:    StateRunning,
		notifyCh: make(chan struct{}, 1),
		metrics:  &Metrics{},
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) Config() eventhub.QueueConfig { return q.config }

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Send wraps payload into an Event and enqueues it.
func (q *Queue) Send(payload interface{}, priority eventhub.Priority) (*eventhub.Event, error) {
	q.mu.Lock()
	running := q.state == StateRunning
	q.mu.Unlock()
	if !running {
		return nil, eventhub.ErrNotRunning
	}

	e := eventhub.NewEvent(q.name, payload, eventhub.WithSource(q.name), eventhub.WithPriority(priority))
	if err := q.bus.Enqueue(e); err != nil {
		return nil, err
	}
	q.metrics.recordSent()
	q.signal()
	return e, nil
}

// Receive blocks (bounded-backoff poll) until an event is available, ctx is
// cancelled, or the queue stops.
func (q *Queue) Receive(ctx context.Context) (*eventhub.Event, error) {
	const idle = 50 * time.Millisecond
	for {
		q.mu.Lock()
		running := q.state == StateRunning
		q.mu.Unlock()
		if !running {
			return nil, eventhub.ErrNotRunning
		}

		if e, ok := q.bus.Dequeue(); ok {
			q.metrics.recordReceived()
			return e, nil
		}

		timer := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notifyCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Consume starts the queue's single consumer loop. Only one consumer may be
// active at a time.
func (q *Queue) Consume(handler Handler, opts eventhub.ConsumeOptions) (string, error) {
	opts = opts.WithDefaults()

	q.mu.Lock()
	if q.state != StateRunning {
		q.mu.Unlock()
		return "", eventhub.ErrNotRunning
	}
	if q.hasConsumer {
		q.mu.Unlock()
		return "", eventhub.ErrAlreadyHasConsumer
	}
	q.hasConsumer = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	consumerID := eventhub.NewEventID()
	go q.consumeLoop(handler, opts)
	return consumerID, nil
}

func (q *Queue) consumeLoop(handler Handler, opts eventhub.ConsumeOptions) {
	defer close(q.doneCh)

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		e, ok := q.bus.Dequeue()
		if !ok {
			timer := time.NewTimer(opts.ReceiveIdle)
			select {
			case <-q.stopCh:
				timer.Stop()
				return
			case <-q.notifyCh:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		q.metrics.recordReceived()
		q.deliver(e, handler, opts)
	}
}

func (q *Queue) deliver(e *eventhub.Event, handler Handler, opts eventhub.ConsumeOptions) {
	// _deliveryCount reflects the 1-indexed number of this delivery attempt,
	// incremented before the handler runs so a successful final attempt
	// still reports the total number of deliveries (see DESIGN.md for why
	// this differs from a literal reading of "re-enqueue increments it").
	e.Metadata[eventhub.MetaDeliveryCount] = e.DeliveryCount() + 1

	msg := &ReceivedMessage{Event: e}
	q.metrics.incPendingAcks(1)
	defer q.metrics.incPendingAcks(-1)

	start := time.Now()
	err := q.invokeHandler(handler, msg, opts)
	q.metrics.recordProcessing(time.Since(start))

	acked, nacked, reason := msg.outcome()
	if err != nil && !nacked && !acked {
		nacked = true
		reason = err
	}
	if !acked && !nacked {
		if !opts.ManualAck {
			acked = true
		}
	}

	if nacked {
		q.handleNack(e, reason, opts)
		return
	}
	if !acked {
		// handler neither acked nor nacked under ManualAck: treat as a
		// dropped delivery, same accounting as a final failure.
		q.finalFailure(e, nil)
	}
}

// invokeHandler recovers from a handler panic and converts it to an error,
// matching the spec's "sum-typed results instead of thrown exceptions
// across task boundaries" rule: panics are caught only at this boundary.
func (q *Queue) invokeHandler(handler Handler, msg *ReceivedMessage, opts eventhub.ConsumeOptions) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("queue consumer handler panicked", "queue", q.name, "event_id", msg.Event.ID, "panic", r)
			err = eventhub.ErrDeliveryFailed("Consume", "handler panicked", nil)
		}
	}()
	return handler(context.Background(), msg)
}

func (q *Queue) handleNack(e *eventhub.Event, reason error, opts eventhub.ConsumeOptions) {
	if e.DeliveryCount() <= opts.MaxRetries {
		retry := e.Clone()
		if reason != nil {
			retry.Metadata[eventhub.MetaLastError] = reason.Error()
		}
		retry.Metadata[eventhub.MetaRetryAt] = time.Now().Add(opts.RetryDelay)
		if err := q.bus.Enqueue(retry); err != nil {
			logger.L().Error("failed to re-enqueue for retry", "queue", q.name, "event_id", e.ID, "error", err)
			q.finalFailure(e, reason)
			return
		}
		q.signal()
		return
	}
	q.finalFailure(e, reason)
}

func (q *Queue) finalFailure(e *eventhub.Event, reason error) {
	e.Metadata[eventhub.MetaFinalFailure] = true
	if reason != nil {
		e.Metadata[eventhub.MetaLastError] = reason.Error()
	}
	q.metrics.recordFailed()
	logger.L().Error("event exhausted retries", "queue", q.name, "event_id", e.ID, "delivery_count", e.DeliveryCount())
}

// StopConsuming stops the active consumer loop, if any, and waits for the
// in-flight handler call (if one is running) to finish.
func (q *Queue) StopConsuming(consumerID string) error {
	q.mu.Lock()
	if !q.hasConsumer {
		q.mu.Unlock()
		return eventhub.ErrUnknownConsumer
	}
	stopCh, doneCh := q.stopCh, q.doneCh
	q.hasConsumer = false
	q.mu.Unlock()

	close(stopCh)
	<-doneCh
	return nil
}

// Stop transitions the queue to draining then stopped: it stops accepting
// new sends, lets any in-flight handler call complete, then stops the
// consumer loop. Failure during a handler never fails the queue itself.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state == StateStopped {
		q.mu.Unlock()
		return
	}
	q.state = StateDraining
	hasConsumer := q.hasConsumer
	stopCh, doneCh := q.stopCh, q.doneCh
	q.mu.Unlock()

	if hasConsumer {
		close(stopCh)
		<-doneCh
	}

	q.mu.Lock()
	q.state = StateStopped
	q.hasConsumer = false
	q.mu.Unlock()
}

func (q *Queue) Clear() {
	q.bus.Clear()
}

func (q *Queue) Metrics() Snapshot {
	return q.metrics.snapshot(q.bus.Size())
}

func (q *Queue) signal() {
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
}
