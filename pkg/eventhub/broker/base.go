package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// BaseAdapter is the abstract adapter base every concrete BrokerPort
// embeds. It owns connected/subscribed state and per-port metrics, and
// converts panics from the do* hooks into typed errors with a preserved
// cause. Concrete adapters supply their transport-specific behavior via the
// Do* function fields (Go's answer to the spec's doConnect/doPublish/etc.
// template methods, since there is no implementation inheritance to hook
// into).
type BaseAdapter struct {
	name string
	typ  string

	DoConnect     func(ctx context.Context) error
	DoDisconnect  func(ctx context.Context) error
	DoPublish     func(ctx context.Context, e *eventhub.Event) error
	DoSubscribe   func(ctx context.Context, handler InboundHandler) error
	DoUnsubscribe func(ctx context.Context) error
	// DoIsReady lets an adapter add a transport-specific readiness check on
	// top of the connected flag (e.g. a broker health probe). Optional.
	DoIsReady func() bool

	mu         sync.Mutex
	connected  bool
	subscribed bool
	handler    InboundHandler
	startedAt  time.Time

	published int64
	received  int64
	failed    int64

	latencyMu  sync.Mutex
	totalNs    int64
	sampleCount int64
	lastActivity time.Time
}

func NewBaseAdapter(name, typ string) *BaseAdapter {
	return &BaseAdapter{name: name, typ: typ}
}

func (b *BaseAdapter) Name() string { return b.name }
func (b *BaseAdapter) Type() string { return b.typ }

// Connect is idempotent: calling it while already connected is a no-op.
func (b *BaseAdapter) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.safeCall(func() error { return b.DoConnect(ctx) }); err != nil {
		return eventhub.ErrDeliveryFailed("Connect", "broker port "+b.name+" failed to connect", err)
	}

	b.mu.Lock()
	b.connected = true
	b.startedAt = time.Now()
	b.mu.Unlock()
	logger.L().Info("broker port connected", "port", b.name, "type", b.typ)
	return nil
}

// Disconnect is idempotent.
func (b *BaseAdapter) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.safeCall(func() error { return b.DoDisconnect(ctx) }); err != nil {
		return eventhub.ErrDeliveryFailed("Disconnect", "broker port "+b.name+" failed to disconnect", err)
	}

	b.mu.Lock()
	b.connected = false
	b.subscribed = false
	b.mu.Unlock()
	logger.L().Info("broker port disconnected", "port", b.name)
	return nil
}

func (b *BaseAdapter) Publish(ctx context.Context, e *eventhub.Event) error {
	start := time.Now()
	err := b.safeCall(func() error { return b.DoPublish(ctx, e) })
	b.recordLatency(time.Since(start))

	if err != nil {
		atomic.AddInt64(&b.failed, 1)
		return eventhub.ErrDeliveryFailed("Publish", "broker port "+b.name+" failed to publish", err)
	}
	atomic.AddInt64(&b.published, 1)
	b.touch()
	return nil
}

// PublishBatch attempts every message and returns success iff all
// succeeded, otherwise a *BatchError listing per-message outcomes.
func (b *BaseAdapter) PublishBatch(ctx context.Context, events []*eventhub.Event) error {
	failures := make(map[string]error)
	for _, e := range events {
		if err := b.Publish(ctx, e); err != nil {
			failures[e.ID] = err
		}
	}
	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}
	return nil
}

func (b *BaseAdapter) Subscribe(ctx context.Context, handler InboundHandler) error {
	if b.DoSubscribe == nil {
		return eventhub.ErrInvalidState("Subscribe", "broker port "+b.name+" does not support inbound subscription")
	}
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()

	if err := b.safeCall(func() error { return b.DoSubscribe(ctx, handler) }); err != nil {
		return eventhub.ErrDeliveryFailed("Subscribe", "broker port "+b.name+" failed to subscribe", err)
	}
	b.mu.Lock()
	b.subscribed = true
	b.mu.Unlock()
	return nil
}

func (b *BaseAdapter) Unsubscribe(ctx context.Context) error {
	if b.DoUnsubscribe == nil {
		return nil
	}
	if err := b.safeCall(func() error { return b.DoUnsubscribe(ctx) }); err != nil {
		return eventhub.ErrDeliveryFailed("Unsubscribe", "broker port "+b.name+" failed to unsubscribe", err)
	}
	b.mu.Lock()
	b.subscribed = false
	b.mu.Unlock()
	return nil
}

func (b *BaseAdapter) IsSubscribed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribed
}

func (b *BaseAdapter) IsReady() bool {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		return false
	}
	if b.DoIsReady != nil {
		return b.DoIsReady()
	}
	return true
}

// handleIncomingEvent is called by a concrete adapter's inbound loop for
// every message it receives from the external broker.
func (b *BaseAdapter) handleIncomingEvent(e *eventhub.Event) {
	atomic.AddInt64(&b.received, 1)
	b.touch()

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()

	if handler != nil {
		handler(e)
	}
}

// HandleIncomingEvent exposes handleIncomingEvent for adapters that live in
// sub-packages (Go has no protected-but-cross-package visibility, so this
// thin exported wrapper is the idiomatic stand-in).
func (b *BaseAdapter) HandleIncomingEvent(e *eventhub.Event) {
	b.handleIncomingEvent(e)
}

func (b *BaseAdapter) Metrics() Metrics {
	b.mu.Lock()
	started := b.startedAt
	b.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started)
	}

	b.latencyMu.Lock()
	var avg time.Duration
	if b.sampleCount > 0 {
		avg = time.Duration(b.totalNs / b.sampleCount)
	}
	last := b.lastActivity
	b.latencyMu.Unlock()

	return Metrics{
		TotalPublished: atomic.LoadInt64(&b.published),
		TotalReceived:  atomic.LoadInt64(&b.received),
		TotalFailed:    atomic.LoadInt64(&b.failed),
		AverageLatency: avg,
		LastActivity:   last,
		Uptime:         uptime,
	}
}

func (b *BaseAdapter) recordLatency(d time.Duration) {
	b.latencyMu.Lock()
	b.totalNs += d.Nanoseconds()
	b.sampleCount++
	b.latencyMu.Unlock()
}

func (b *BaseAdapter) touch() {
	b.latencyMu.Lock()
	b.lastActivity = time.Now()
	b.latencyMu.Unlock()
}

// safeCall recovers from a panicking do* hook and converts it into an error
// with the panic value preserved as context, matching the spec's "convert
// exceptions to typed errors with a preserved cause" adapter-base contract.
func (b *BaseAdapter) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("broker adapter hook panicked", "port", b.name, "panic", r)
			perr := eventhub.ErrDeliveryFailed("adapter", "panic in adapter hook", fmt.Errorf("panic: %v", r))
			perr.Context["panic"] = r
			err = perr
		}
	}()
	return fn()
}
