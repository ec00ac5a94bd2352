package eventhub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/internalbus"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/queue"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/topic"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// State is the hub's own lifecycle, driven by Initialize/Start/Stop.
// Transitions are monotonic except stopped -> (re)initialize, which is
// rejected by design: a new hub must be constructed instead.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OnListener receives events delivered through the hub-level on(type)
// legacy pub-sub bus, distinct from named Topics.
type OnListener func(e *Event)

// Subscription describes one On(type) registration.
type Subscription struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Active    bool
}

type onSubscription struct {
	Subscription
	listener OnListener
}

// Metrics is the hub-wide snapshot §4.8 mandates: uptime, totals, and every
// queue/topic/port's own snapshot, keyed by name.
type Metrics struct {
	Uptime              time.Duration
	EventsProcessed     int64
	EventsFailed        int64
	ActiveSubscriptions int
	Queues              map[string]queue.Snapshot
	Topics              map[string]TopicMetrics
	Ports               map[string]broker.Metrics
}

// TopicMetrics mirrors topic.Manager's anonymous-struct snapshot shape as a
// named type so it can be part of the hub's exported Metrics.
type TopicMetrics struct {
	Subscribers int
	Published   int64
	Delivered   int64
	Failed      int64
}

// EventHub is the top-level facade: it owns the queue and topic managers,
// the broker port registry, the internal lifecycle bus, and the legacy
// On(type) pub-sub bus, and drives the hub-wide lifecycle state machine.
type EventHub struct {
	config HubConfig

	mu        sync.RWMutex
	state     State
	startedAt time.Time

	queues  *queue.Manager
	topics  *topic.Manager
	ports   *broker.Registry
	events  *internalbus.Bus

	onMu   sync.RWMutex
	onSubs map[string]map[string]*onSubscription // type -> id -> sub

	processed int64
	failed    int64
}

// New constructs an EventHub in the uninitialized state. Name is validated
// against the "hubname" tag (non-empty, `^[A-Za-z0-9_-]{1,100}$`).
func New(config HubConfig) (*EventHub, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &EventHub{
		config: config,
		state:  StateUninitialized,
		queues: queue.NewManager(),
		topics: topic.NewManager(),
		ports:  broker.NewRegistry(),
		events: internalbus.New(),
		onSubs: make(map[string]map[string]*onSubscription),
	}, nil
}

func (h *EventHub) Name() string { return h.config.Name }

func (h *EventHub) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Initialize transitions uninitialized -> initialized. It is the only
// legal entry point into the lifecycle; re-initializing a stopped hub is
// rejected (a new hub must be constructed, per the spec's ownership rule).
func (h *EventHub) Initialize(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateUninitialized {
		state := h.state
		h.mu.Unlock()
		return ErrInvalidState("Initialize", "hub "+h.config.Name+" cannot initialize from state "+state.String())
	}
	h.state = StateInitialized
	h.mu.Unlock()

	logger.L().InfoContext(ctx, "event hub initialized", "hub", h.config.Name)
	return nil
}

// Start transitions initialized -> running, connecting every registered
// broker port. Individual port connect failures are logged and reported via
// a broker.connection_failed internal event but do not block Start.
func (h *EventHub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateInitialized {
		state := h.state
		h.mu.Unlock()
		return ErrInvalidState("Start", "hub "+h.config.Name+" cannot start from state "+state.String())
	}
	h.state = StateRunning
	h.startedAt = time.Now()
	h.mu.Unlock()

	if err := h.ports.ConnectAll(ctx); err != nil {
		h.events.Publish(internalbus.BrokerConnectionFailed, map[string]interface{}{"error": err.Error()})
	} else {
		h.events.Publish(internalbus.BrokerConnected, nil)
	}

	logger.L().InfoContext(ctx, "event hub started", "hub", h.config.Name)
	return nil
}

// Stop transitions running -> stopping -> stopped: it stops every queue
// (draining in-flight handlers), aborts topic fan-out by no longer
// accepting new publications' scheduling, disconnects every broker port,
// and waits up to ShutdownDeadline for that work before forcing a failed
// transition.
func (h *EventHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateRunning {
		state := h.state
		h.mu.Unlock()
		return ErrInvalidState("Stop", "hub "+h.config.Name+" cannot stop from state "+state.String())
	}
	h.state = StateStopping
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.queues.StopAll()
		_ = h.ports.DisconnectAll(ctx)
		close(done)
	}()

	select {
	case <-done:
		h.mu.Lock()
		h.state = StateStopped
		h.mu.Unlock()
		h.events.Publish(internalbus.BrokerDisconnected, nil)
		logger.L().InfoContext(ctx, "event hub stopped", "hub", h.config.Name)
		return nil
	case <-time.After(h.config.ShutdownDeadline):
		h.mu.Lock()
		h.state = StateFailed
		h.mu.Unlock()
		logger.L().ErrorContext(ctx, "event hub shutdown deadline exceeded", "hub", h.config.Name)
		return ErrTimeout("Stop", "shutdown deadline exceeded")
	}
}

func (h *EventHub) running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state == StateRunning
}

// --- Queues -----------------------------------------------------------

func (h *EventHub) CreateQueue(config QueueConfig) (*queue.Queue, error) {
	q, err := h.queues.Create(config)
	if err != nil {
		return nil, err
	}
	h.events.Publish(internalbus.QueueCreated, map[string]interface{}{"queue": config.Name})
	return q, nil
}

func (h *EventHub) GetQueue(name string) (*queue.Queue, error) {
	return h.queues.Get(name)
}

func (h *EventHub) DeleteQueue(name string) error {
	if err := h.queues.Delete(name); err != nil {
		return err
	}
	h.events.Publish(internalbus.QueueDeleted, map[string]interface{}{"queue": name})
	return nil
}

// SendToQueue wraps payload into an Event and enqueues it on the named
// queue, recording the message.sent internal event.
func (h *EventHub) SendToQueue(name string, payload interface{}, priority Priority) (*Event, error) {
	if !h.running() {
		return nil, ErrNotRunning
	}
	q, err := h.queues.Get(name)
	if err != nil {
		return nil, err
	}
	e, err := q.Send(payload, priority)
	if err != nil {
		return nil, err
	}
	atomic.AddInt64(&h.processed, 1)
	h.events.Publish(internalbus.MessageSent, map[string]interface{}{"queue": name, "event_id": e.ID})
	return e, nil
}

// --- Topics -------------------------------------------------------------

func (h *EventHub) CreateTopic(config TopicConfig) (*topic.Topic, error) {
	t, err := h.topics.Create(config)
	if err != nil {
		return nil, err
	}
	h.events.Publish(internalbus.TopicCreated, map[string]interface{}{"topic": config.Name})
	return t, nil
}

func (h *EventHub) GetTopic(name string) (*topic.Topic, error) {
	return h.topics.Get(name)
}

func (h *EventHub) DeleteTopic(name string) error {
	if err := h.topics.Delete(name); err != nil {
		return err
	}
	h.events.Publish(internalbus.TopicDeleted, map[string]interface{}{"topic": name})
	return nil
}

// Subscribe registers a listener on a named Topic (not the hub-level On(type)
// bus) and records subscription.created on the internal event bus.
func (h *EventHub) Subscribe(topicName string, listener topic.Listener, opts SubscribeOptions) (string, error) {
	if !h.running() {
		return "", ErrNotRunning
	}
	t, err := h.topics.Get(topicName)
	if err != nil {
		return "", err
	}
	id := t.Subscribe(listener, opts)
	h.events.Publish(internalbus.SubscriptionCreated, map[string]interface{}{"topic": topicName, "subscription_id": id})
	return id, nil
}

// Unsubscribe removes a subscription from the named Topic.
func (h *EventHub) Unsubscribe(topicName, subscriptionID string) error {
	t, err := h.topics.Get(topicName)
	if err != nil {
		return err
	}
	if err := t.Unsubscribe(subscriptionID); err != nil {
		return err
	}
	h.events.Publish(internalbus.SubscriptionCancelled, map[string]interface{}{"topic": topicName, "subscription_id": subscriptionID})
	return nil
}

// PublishToTopic builds an Event and fans it out through the named Topic,
// then mirrors it to every registered broker port. A port failure is
// reported but never rolls back the local topic delivery (spec scenario 5).
func (h *EventHub) PublishToTopic(ctx context.Context, topicName string, data interface{}, opts ...EventOption) (*Event, error) {
	if !h.running() {
		return nil, ErrNotRunning
	}
	t, err := h.topics.Get(topicName)
	if err != nil {
		return nil, err
	}

	e := NewEvent(topicName, data, append([]EventOption{WithSource(h.config.Name)}, opts...)...)
	t.Publish(e)
	atomic.AddInt64(&h.processed, 1)
	h.events.Publish(internalbus.MessagePublished, map[string]interface{}{"topic": topicName, "event_id": e.ID})

	if err := h.ports.Publish(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// --- Legacy On(type) bus --------------------------------------------------

// Emit is the low-level emission primitive: it expects a complete envelope
// and delivers it to every On(type) listener registered for event.Type.
// This is a separate, hub-internal pub-sub bus from named Topics.
func (h *EventHub) Emit(e *Event) error {
	if !h.running() {
		return ErrNotRunning
	}

	h.onMu.RLock()
	byID := h.onSubs[e.Type]
	listeners := make([]*onSubscription, 0, len(byID))
	for _, sub := range byID {
		if sub.Active {
			listeners = append(listeners, sub)
		}
	}
	h.onMu.RUnlock()

	for _, sub := range listeners {
		h.invokeOn(sub, e)
	}
	atomic.AddInt64(&h.processed, 1)
	return nil
}

func (h *EventHub) invokeOn(sub *onSubscription, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("hub On(type) listener panicked", "type", sub.Type, "subscription_id", sub.ID, "panic", r)
			atomic.AddInt64(&h.failed, 1)
		}
	}()
	sub.listener(e)
}

// Publish builds an envelope with the spec-mandated defaults and calls Emit.
func (h *EventHub) Publish(eventType string, data interface{}, opts ...EventOption) (*Event, error) {
	e := NewEvent(eventType, data, append([]EventOption{WithSource(h.config.Name)}, opts...)...)
	if err := h.Emit(e); err != nil {
		return nil, err
	}
	return e, nil
}

// On registers listener for every Emit/Publish whose Type equals eventType.
func (h *EventHub) On(eventType string, listener OnListener) *Subscription {
	sub := &onSubscription{
		Subscription: Subscription{
			ID:        NewEventID(),
			Type:      eventType,
			CreatedAt: time.Now(),
			Active:    true,
		},
		listener: listener,
	}

	h.onMu.Lock()
	if h.onSubs[eventType] == nil {
		h.onSubs[eventType] = make(map[string]*onSubscription)
	}
	h.onSubs[eventType][sub.ID] = sub
	h.onMu.Unlock()

	out := sub.Subscription
	return &out
}

// Off removes an On(type) subscription by id.
func (h *EventHub) Off(id string) error {
	h.onMu.Lock()
	defer h.onMu.Unlock()
	for eventType, byID := range h.onSubs {
		if _, ok := byID[id]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(h.onSubs, eventType)
			}
			return nil
		}
	}
	return ErrUnknownSubscription
}

func (h *EventHub) activeSubscriptionCount() int {
	h.onMu.RLock()
	defer h.onMu.RUnlock()
	n := 0
	for _, byID := range h.onSubs {
		n += len(byID)
	}
	return n
}

// --- Broker ports ---------------------------------------------------------

// RegisterPort adds a broker port to the hub's aggregate registry.
func (h *EventHub) RegisterPort(p broker.Port) error {
	if p.Name() == "" || p.Type() == "" {
		return ErrInvalidConfig("RegisterPort", "broker port requires both name and type", nil)
	}
	if err := h.ports.Register(p); err != nil {
		return err
	}
	h.events.Publish(internalbus.PortRegistered, map[string]interface{}{"port": p.Name(), "type": p.Type()})
	return nil
}

func (h *EventHub) UnregisterPort(name string) error {
	if err := h.ports.Unregister(name); err != nil {
		return err
	}
	h.events.Publish(internalbus.PortUnregistered, map[string]interface{}{"port": name})
	return nil
}

// ConnectPort connects a single registered port by name. Per the open
// question recorded in DESIGN.md, calling this with an unregistered name
// returns NotFound rather than constructing an adapter on demand.
func (h *EventHub) ConnectPort(ctx context.Context, name string) error {
	p, err := h.ports.Get(name)
	if err != nil {
		return err
	}
	return p.Connect(ctx)
}

func (h *EventHub) Ports() *broker.Registry { return h.ports }

// --- Internal event bus ---------------------------------------------------

// OnInternal subscribes handler to the hub's internal lifecycle
// notifications matching eventType (or every kind, via internalbus.AllKinds).
// Handler errors/panics are swallowed after logging.
func (h *EventHub) OnInternal(eventType internalbus.Kind, handler internalbus.Handler) string {
	return h.events.Subscribe(eventType, handler)
}

func (h *EventHub) OffInternal(id string) {
	h.events.Unsubscribe(id)
}

// --- Metrics ---------------------------------------------------------------

// MetricsSnapshot returns the hub-wide snapshot: uptime, processed/failed totals,
// active subscription count, and every queue/topic/port's own snapshot.
func (h *EventHub) MetricsSnapshot() Metrics {
	h.mu.RLock()
	started := h.startedAt
	state := h.state
	h.mu.RUnlock()

	var uptime time.Duration
	if state == StateRunning && !started.IsZero() {
		uptime = time.Since(started)
	}

	topics := make(map[string]TopicMetrics)
	for name, snap := range h.topics.Metrics() {
		topics[name] = TopicMetrics(snap)
	}

	return Metrics{
		Uptime:              uptime,
		EventsProcessed:     atomic.LoadInt64(&h.processed),
		EventsFailed:        atomic.LoadInt64(&h.failed),
		ActiveSubscriptions: h.activeSubscriptionCount(),
		Queues:              h.queues.Metrics(),
		Topics:              topics,
		Ports:               h.ports.Metrics(),
	}
}
