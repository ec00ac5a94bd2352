// Package topic implements the publish-subscribe engine: a Topic maintains
// a subscription set and fans each published event out to every subscriber
// whose filter (if any) returns true. Each subscriber observes its own
// FIFO order; filter/listener failures are isolated per subscriber.
package topic

import (
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// Listener receives events delivered to a subscription.
type Listener func(e *eventhub.Event)

// subscription owns an unbounded FIFO delivery queue drained by a single
// worker goroutine, so this subscriber's deliveries are strictly ordered
// even though Publish returns as soon as scheduling is committed (§4.4) and
// different subscribers are delivered to independently/concurrently.
type subscription struct {
	id        string
	listener  Listener
	filter    func(*eventhub.Event) bool
	once      bool
	createdAt time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*eventhub.Event
	closed bool
}

func newSubscription(id string, listener Listener, opts eventhub.SubscribeOptions) *subscription {
	sub := &subscription{
		id:        id,
		listener:  listener,
		filter:    opts.Filter,
		once:      opts.Once,
		createdAt: time.Now(),
	}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

// enqueue appends e to this subscriber's delivery queue. It is a no-op once
// the subscription is closed, matching "unsubscribe is effective-immediate
// for publications started after the call" (in-flight enqueues that raced a
// close are simply dropped for that subscriber, not delivered late).
func (s *subscription) enqueue(e *eventhub.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.cond.Signal()
}

// next blocks until an event is queued or the subscription closes.
func (s *subscription) next() (*eventhub.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return nil, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Metrics tracks per-topic counters surfaced through the hub's aggregate
// Metrics() snapshot.
type Metrics struct {
	mu            sync.Mutex
	published     int64
	delivered     int64
	failed        int64
	invalidFilter int64
}

func (m *Metrics) Snapshot() (subscribers int, published, delivered, failed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0, m.published, m.delivered, m.failed
}

// Topic is a subscription registry for one pub-sub channel.
type Topic struct {
	name   string
	config eventhub.TopicConfig

	mu   sync.RWMutex
	subs map[string]*subscription

	metrics Metrics
}

func New(config eventhub.TopicConfig) *Topic {
	return &Topic{
		name:   config.Name,
		config: config,
		subs:   make(map[string]*subscription),
	}
}

func (t *Topic) Name() string { return t.name }

// Subscribe registers a listener, starts its delivery worker, and returns
// its subscription id.
func (t *Topic) Subscribe(listener Listener, opts eventhub.SubscribeOptions) string {
	id := eventhub.NewEventID()
	sub := newSubscription(id, listener, opts)

	t.mu.Lock()
	t.subs[id] = sub
	t.mu.Unlock()

	go t.runSubscriber(sub)
	return id
}

// Unsubscribe removes a subscription. It is effective-immediate for
// publications started after this call returns.
func (t *Topic) Unsubscribe(id string) error {
	t.mu.Lock()
	sub, ok := t.subs[id]
	if !ok {
		t.mu.Unlock()
		return eventhub.ErrUnknownSubscription
	}
	delete(t.subs, id)
	t.mu.Unlock()

	sub.close()
	return nil
}

// Publish schedules delivery to the current snapshot of active subscribers
// and returns once that scheduling is committed, not once delivery
// completes. Subscriptions added during this call do not receive this
// event; subscriptions removed during this call still receive it if their
// delivery had already begun (their queue already holds it).
func (t *Topic) Publish(e *eventhub.Event) {
	if t.config.TTL > 0 && time.Since(e.Timestamp) > t.config.TTL {
		return
	}

	t.mu.RLock()
	snapshot := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		snapshot = append(snapshot, sub)
	}
	t.mu.RUnlock()

	t.metrics.mu.Lock()
	t.metrics.published++
	t.metrics.mu.Unlock()

	for _, sub := range snapshot {
		sub.enqueue(e)
	}
}

// runSubscriber is the single worker for one subscription: it drains that
// subscriber's queue strictly in order, so this subscriber's deliveries are
// a subsequence of the publication order, while each subscriber runs
// independently of every other (§5).
func (t *Topic) runSubscriber(sub *subscription) {
	for {
		e, ok := sub.next()
		if !ok {
			return
		}
		if t.deliverOne(sub, e) {
			return
		}
	}
}

// deliverOne delivers one event to sub and reports whether the
// subscription's worker should now exit (true only after a successful
// "once" delivery).
func (t *Topic) deliverOne(sub *subscription, e *eventhub.Event) bool {
	if t.config.TTL > 0 && time.Since(e.Timestamp) > t.config.TTL {
		return false
	}
	if sub.filter != nil {
		pass, ok := t.evalFilter(sub, e)
		if !ok {
			t.metrics.mu.Lock()
			t.metrics.invalidFilter++
			t.metrics.mu.Unlock()
			return false
		}
		if !pass {
			return false
		}
	}

	if !t.invokeListener(sub, e) {
		return false
	}

	t.metrics.mu.Lock()
	t.metrics.delivered++
	t.metrics.mu.Unlock()

	if sub.once {
		t.mu.Lock()
		if _, ok := t.subs[sub.id]; ok {
			delete(t.subs, sub.id)
		}
		t.mu.Unlock()
		sub.close()
		return true
	}
	return false
}

// evalFilter runs a subscriber's filter, treating a panic as a returning-
// false filter while still counting it toward invalidFilter.
func (t *Topic) evalFilter(sub *subscription, e *eventhub.Event) (pass bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("topic filter panicked", "topic", t.name, "subscription_id", sub.id, "panic", r)
			pass, ok = false, false
		}
	}()
	return sub.filter(e), true
}

// invokeListener calls a subscriber's listener, isolating panics so one
// failing subscriber never affects others or subsequent publications.
func (t *Topic) invokeListener(sub *subscription, e *eventhub.Event) (succeeded bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("topic listener panicked", "topic", t.name, "subscription_id", sub.id, "panic", r)
			t.metrics.mu.Lock()
			t.metrics.failed++
			t.metrics.mu.Unlock()
			succeeded = false
		}
	}()
	sub.listener(e)
	return true
}

// Close stops every subscription's delivery worker. It is called by
// Manager.Delete so removing a topic doesn't leak the per-subscriber
// goroutines runSubscriber started.
func (t *Topic) Close() {
	t.mu.Lock()
	subs := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (t *Topic) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic) Metrics() (subscribers int, published, delivered, failed int64) {
	subscribers = t.SubscriberCount()
	_, published, delivered, failed = t.metrics.Snapshot()
	return
}
