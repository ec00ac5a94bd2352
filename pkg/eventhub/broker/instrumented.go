package broker

import (
	"context"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented wraps a Port with tracing and structured logging, mirroring
// pkg/messaging's InstrumentedBroker/InstrumentedProducer/InstrumentedConsumer
// but in Event/Port terms.
type Instrumented struct {
	next   Port
	tracer trace.Tracer
}

func NewInstrumented(next Port) *Instrumented {
	return &Instrumented{next: next, tracer: otel.Tracer("pkg/eventhub/broker")}
}

func (i *Instrumented) Name() string { return i.next.Name() }
func (i *Instrumented) Type() string { return i.next.Type() }

func (i *Instrumented) Connect(ctx context.Context) error {
	ctx, span := i.tracer.Start(ctx, "broker.Connect", trace.WithAttributes(
		attribute.String("broker.port", i.next.Name()),
		attribute.String("broker.type", i.next.Type()),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "connecting broker port", "port", i.next.Name())
	err := i.next.Connect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "connected")
	return nil
}

func (i *Instrumented) Disconnect(ctx context.Context) error {
	ctx, span := i.tracer.Start(ctx, "broker.Disconnect", trace.WithAttributes(
		attribute.String("broker.port", i.next.Name()),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "disconnecting broker port", "port", i.next.Name())
	err := i.next.Disconnect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "disconnected")
	return nil
}

func (i *Instrumented) Publish(ctx context.Context, e *eventhub.Event) error {
	ctx, span := i.tracer.Start(ctx, "broker.Publish", trace.WithAttributes(
		attribute.String("broker.port", i.next.Name()),
		attribute.String("eventhub.event_id", e.ID),
		attribute.String("eventhub.event_type", e.Type),
	))
	defer span.End()

	logger.L().InfoContext(ctx, "publishing event to broker", "port", i.next.Name(), "event_id", e.ID)

	err := i.next.Publish(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "broker publish failed", "port", i.next.Name(), "event_id", e.ID, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "published")
	return nil
}

func (i *Instrumented) PublishBatch(ctx context.Context, events []*eventhub.Event) error {
	ctx, span := i.tracer.Start(ctx, "broker.PublishBatch", trace.WithAttributes(
		attribute.String("broker.port", i.next.Name()),
		attribute.Int("eventhub.batch_size", len(events)),
	))
	defer span.End()

	err := i.next.PublishBatch(ctx, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.L().ErrorContext(ctx, "broker batch publish failed", "port", i.next.Name(), "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "batch published")
	return nil
}

func (i *Instrumented) IsReady() bool    { return i.next.IsReady() }
func (i *Instrumented) Metrics() Metrics { return i.next.Metrics() }

// Subscribe forwards to the wrapped port when it implements Subscriber;
// otherwise it returns an InvalidState error, which the registry's
// isUnsupported check treats as an absent capability.
func (i *Instrumented) Subscribe(ctx context.Context, handler InboundHandler) error {
	sub, ok := i.next.(Subscriber)
	if !ok {
		return eventhub.ErrInvalidState("Subscribe", "broker port "+i.next.Name()+" does not support inbound subscription")
	}

	wrapped := func(e *eventhub.Event) {
		_, span := i.tracer.Start(context.Background(), "broker.HandleIncoming", trace.WithAttributes(
			attribute.String("broker.port", i.next.Name()),
			attribute.String("eventhub.event_id", e.ID),
		))
		defer span.End()
		logger.L().Info("received event from broker", "port", i.next.Name(), "event_id", e.ID)
		handler(e)
	}

	logger.L().InfoContext(ctx, "subscribing broker port", "port", i.next.Name())
	return sub.Subscribe(ctx, wrapped)
}

func (i *Instrumented) Unsubscribe(ctx context.Context) error {
	sub, ok := i.next.(Subscriber)
	if !ok {
		return nil
	}
	return sub.Unsubscribe(ctx)
}

func (i *Instrumented) IsSubscribed() bool {
	sub, ok := i.next.(Subscriber)
	if !ok {
		return false
	}
	return sub.IsSubscribed()
}
