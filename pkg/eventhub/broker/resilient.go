package broker

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/resilience"
)

// ResilientConfig configures the resilience wrapper for a broker port,
// mirroring pkg/messaging.ResilientBrokerConfig.
type ResilientConfig struct {
	CircuitBreakerEnabled   bool          `env:"EVENTHUB_PORT_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"EVENTHUB_PORT_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"EVENTHUB_PORT_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"EVENTHUB_PORT_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"EVENTHUB_PORT_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"EVENTHUB_PORT_RETRY_BACKOFF" env-default:"100ms"`
}

// Resilient wraps a Port with circuit breaker and retry around Publish and
// PublishBatch, grounded on pkg/messaging.ResilientBroker.
type Resilient struct {
	next     Port
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

func NewResilient(next Port, cfg ResilientConfig) *Resilient {
	r := &Resilient{next: next}

	if cfg.CircuitBreakerEnabled {
		r.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "broker:" + next.Name(),
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		r.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
		}
	}

	return r
}

func (r *Resilient) Name() string { return r.next.Name() }
func (r *Resilient) Type() string { return r.next.Type() }

func (r *Resilient) Connect(ctx context.Context) error    { return r.next.Connect(ctx) }
func (r *Resilient) Disconnect(ctx context.Context) error { return r.next.Disconnect(ctx) }

func (r *Resilient) Publish(ctx context.Context, e *eventhub.Event) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.next.Publish(ctx, e)
	})
}

func (r *Resilient) PublishBatch(ctx context.Context, events []*eventhub.Event) error {
	return r.execute(ctx, func(ctx context.Context) error {
		return r.next.PublishBatch(ctx, events)
	})
}

func (r *Resilient) IsReady() bool    { return r.next.IsReady() }
func (r *Resilient) Metrics() Metrics { return r.next.Metrics() }

func (r *Resilient) Subscribe(ctx context.Context, handler InboundHandler) error {
	sub, ok := r.next.(Subscriber)
	if !ok {
		return eventhub.ErrInvalidState("Subscribe", "broker port "+r.next.Name()+" does not support inbound subscription")
	}
	return sub.Subscribe(ctx, handler)
}

func (r *Resilient) Unsubscribe(ctx context.Context) error {
	sub, ok := r.next.(Subscriber)
	if !ok {
		return nil
	}
	return sub.Unsubscribe(ctx)
}

func (r *Resilient) IsSubscribed() bool {
	sub, ok := r.next.(Subscriber)
	if !ok {
		return false
	}
	return sub.IsSubscribed()
}

func (r *Resilient) execute(ctx context.Context, fn resilience.Executor) error {
	operation := fn

	if r.cb != nil {
		cbFn := operation
		operation = func(ctx context.Context) error {
			return r.cb.Execute(ctx, cbFn)
		}
	}

	if r.retryCfg.MaxAttempts > 0 {
		return resilience.Retry(ctx, r.retryCfg, operation)
	}

	return operation(ctx)
}
