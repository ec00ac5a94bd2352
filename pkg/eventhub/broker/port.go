// Package broker defines the BrokerPort abstraction: a pluggable boundary
// through which published events may be mirrored to, or ingested from, an
// external message broker. Port, BaseAdapter, Instrumented, and Resilient
// generalize pkg/messaging's Broker/InstrumentedBroker/ResilientBroker from
// Message/topic terms to Event/port terms.
package broker

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
)

// InboundHandler converts an externally originated message into the hub's
// Event envelope. Adapters call this for every inbound message.
type InboundHandler func(e *eventhub.Event)

// Port is the capability-set contract every broker adapter satisfies.
type Port interface {
	Name() string
	Type() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Publish(ctx context.Context, e *eventhub.Event) error
	PublishBatch(ctx context.Context, events []*eventhub.Event) error

	IsReady() bool
	Metrics() Metrics
}

// Subscriber is an optional capability: not every adapter supports inbound
// subscription (Kinesis, for instance, is publish-only). The aggregate
// registry probes for this interface and treats its absence as a no-op
// success, per the spec's capability-set polymorphism note.
type Subscriber interface {
	Subscribe(ctx context.Context, handler InboundHandler) error
	Unsubscribe(ctx context.Context) error
	IsSubscribed() bool
}

// Metrics is the per-port counter set the spec requires: totalPublished,
// totalReceived, totalFailed, averageLatency, lastActivity, uptime.
type Metrics struct {
	TotalPublished int64
	TotalReceived  int64
	TotalFailed    int64
	AverageLatency time.Duration
	LastActivity   time.Time
	Uptime         time.Duration
}

// BatchError is the composite error a batch publish returns when at least
// one underlying publish failed; it lists every per-message outcome.
type BatchError struct {
	Failures map[string]error // event id -> error
}

func (e *BatchError) Error() string {
	return "batch publish had failures"
}
