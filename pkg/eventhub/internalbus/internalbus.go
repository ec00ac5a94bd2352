// Package internalbus is the EventHub facade's own lifecycle notification
// channel: a closed set of typed events (queue/topic/port/broker lifecycle
// transitions) that internal collaborators and external observers (like
// pkg/appctx) can subscribe to, independent of the user-facing Topic
// pub-sub. Grounded on the teacher's pkg/events.Bus Publish/Subscribe/Close
// shape, specialized from a free-form topic string to a closed set of event
// kinds with per-Kind subscription filtering.
package internalbus

import (
	"strconv"
	"sync"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// AllKinds subscribes a handler to every notification kind, regardless of
// what Publish is called with.
const AllKinds Kind = ""

// Kind enumerates the hub lifecycle notifications the bus carries.
type Kind string

const (
	QueueCreated          Kind = "queue.created"
	QueueDeleted          Kind = "queue.deleted"
	MessageSent           Kind = "message.sent"
	MessageReceived       Kind = "message.received"
	TopicCreated          Kind = "topic.created"
	TopicDeleted          Kind = "topic.deleted"
	MessagePublished      Kind = "message.published"
	SubscriptionCreated   Kind = "subscription.created"
	SubscriptionCancelled Kind = "subscription.cancelled"
	PortRegistered        Kind = "port.registered"
	PortUnregistered      Kind = "port.unregistered"
	BrokerConnected       Kind = "broker.connected"
	BrokerDisconnected    Kind = "broker.disconnected"
	BrokerConnectionFailed Kind = "broker.connection_failed"
)

// Notification is one lifecycle event, carrying a free-form detail map
// (e.g. {"queue": "orders"} or {"port": "kafka-main", "error": err}).
type Notification struct {
	Kind      Kind
	Timestamp time.Time
	Details   map[string]interface{}
}

// Handler observes lifecycle notifications. Handlers run isolated from each
// other and from Publish's caller; a panicking handler never affects the
// bus or other subscribers.
type Handler func(n Notification)

type subscriber struct {
	kind    Kind
	handler Handler
}

// Bus is the hub's internal lifecycle pub-sub channel.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]subscriber
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[string]subscriber)}
}

// Subscribe registers handler for notifications of kind (or every kind, if
// kind is AllKinds) and returns a subscription id usable with Unsubscribe,
// matching the hub-level OnInternal(eventType, handler) API this bus backs.
func (b *Bus) Subscribe(kind Kind, handler Handler) string {
	id := newSubID()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = subscriber{kind: kind, handler: handler}
	return id
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish fans a notification out to every subscriber synchronously but in
// isolation: a panicking handler is recovered and does not prevent delivery
// to the rest.
func (b *Bus) Publish(kind Kind, details map[string]interface{}) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.kind == AllKinds || sub.kind == kind {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	n := Notification{Kind: kind, Timestamp: time.Now(), Details: details}
	for _, h := range handlers {
		invoke(h, n)
	}
}

func invoke(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("internal bus handler panicked", "kind", n.Kind, "panic", r)
		}
	}()
	h(n)
}

// Close marks the bus closed; subsequent Publish calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

var (
	subIDMu  sync.Mutex
	subIDSeq uint64
)

// newSubID avoids depending on a random source so the bus stays usable from
// deterministic test harnesses; a monotonically increasing counter is
// sufficient uniqueness for a process-local subscription id.
func newSubID() string {
	subIDMu.Lock()
	defer subIDMu.Unlock()
	subIDSeq++
	return "sub-" + strconv.FormatUint(subIDSeq, 10)
}
