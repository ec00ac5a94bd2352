// Package eventhub implements an in-process event hub: point-to-point queues,
// publish-subscribe topics, and pluggable broker ports, coordinated by a
// lifecycle-managed facade.
package eventhub

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders queue delivery. Lower numeric value dequeues first.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// Reserved metadata keys the hub manages on behalf of the retry policy.
const (
	MetaDeliveryCount = "_deliveryCount"
	MetaLastError     = "_lastError"
	MetaRetryAt       = "_retryAt"
	MetaFinalFailure  = "_finalFailure"
)

// Event is the immutable envelope routed through queues, topics, and broker
// ports. Once constructed it should not be mutated except for the reserved
// metadata keys the retry policy rewrites between deliveries.
type Event struct {
	ID            string
	Type          string
	Timestamp     time.Time
	Source        string
	Priority      Priority
	Data          interface{}
	CorrelationID string
	Metadata      map[string]interface{}
}

// NewEvent builds an Event with the spec-mandated id shape and sane defaults.
// Callers override Source/Priority/CorrelationID/Metadata via EventOption.
func NewEvent(eventType string, data interface{}, opts ...EventOption) *Event {
	e := &Event{
		ID:        NewEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Priority:  PriorityNormal,
		Data:      data,
		Metadata:  make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEventID generates an id of the form "evt-<millis>-<9char>", matching the
// spec so tests can parse and order ids deterministically on timestamp ties.
func NewEventID() string {
	millis := time.Now().UnixMilli()
	suffix := uuid.New().String()
	// strip hyphens so the suffix is a compact alphanumeric run, then trim to 9.
	compact := make([]byte, 0, len(suffix))
	for i := 0; i < len(suffix); i++ {
		if suffix[i] != '-' {
			compact = append(compact, suffix[i])
		}
	}
	if len(compact) > 9 {
		compact = compact[:9]
	}
	return fmt.Sprintf("evt-%d-%s", millis, compact)
}

// EventOption customizes an Event at construction time.
type EventOption func(*Event)

func WithSource(source string) EventOption {
	return func(e *Event) { e.Source = source }
}

func WithPriority(p Priority) EventOption {
	return func(e *Event) { e.Priority = p }
}

func WithCorrelationID(id string) EventOption {
	return func(e *Event) { e.CorrelationID = id }
}

func WithMetadata(metadata map[string]interface{}) EventOption {
	return func(e *Event) {
		for k, v := range metadata {
			e.Metadata[k] = v
		}
	}
}

// Clone returns a shallow copy of the event with its own Metadata map, so
// retry re-enqueue can rewrite reserved keys without mutating the original.
func (e *Event) Clone() *Event {
	clone := *e
	clone.Metadata = make(map[string]interface{}, len(e.Metadata))
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// DeliveryCount reads the _deliveryCount reserved metadata key, defaulting to 0.
func (e *Event) DeliveryCount() int {
	v, ok := e.Metadata[MetaDeliveryCount]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}

// RetryAt reads the _retryAt reserved metadata key, if present.
func (e *Event) RetryAt() (time.Time, bool) {
	v, ok := e.Metadata[MetaRetryAt]
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}
