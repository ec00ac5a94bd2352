// Package memory provides an in-process BrokerPort used for tests and local
// development: it requires no external dependency and simply records
// published events, optionally echoing them back to any subscribed handler.
package memory

import (
	"context"
	"sync"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
)

// Adapter is a loopback broker port. PublishFunc, when set, overrides the
// default record-and-maybe-echo behavior - tests use it to simulate a
// specific port failing while others succeed (spec scenario 5).
type Adapter struct {
	*broker.BaseAdapter

	mu        sync.Mutex
	published []*eventhub.Event
	echo      bool

	PublishFunc func(ctx context.Context, e *eventhub.Event) error
}

// New creates a memory adapter named name. When echo is true, every
// published event is immediately redelivered to a subscribed handler.
func New(name string, echo bool) *Adapter {
	a := &Adapter{echo: echo}
	a.BaseAdapter = broker.NewBaseAdapter(name, "memory")
	a.BaseAdapter.DoConnect = func(ctx context.Context) error { return nil }
	a.BaseAdapter.DoDisconnect = func(ctx context.Context) error { return nil }
	a.BaseAdapter.DoPublish = a.doPublish
	a.BaseAdapter.DoSubscribe = func(ctx context.Context, handler broker.InboundHandler) error { return nil }
	a.BaseAdapter.DoUnsubscribe = func(ctx context.Context) error { return nil }
	return a
}

func (a *Adapter) doPublish(ctx context.Context, e *eventhub.Event) error {
	if a.PublishFunc != nil {
		if err := a.PublishFunc(ctx, e); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.published = append(a.published, e)
	a.mu.Unlock()

	if a.echo {
		a.BaseAdapter.HandleIncomingEvent(e)
	}
	return nil
}

// Published returns a snapshot of every event accepted by Publish, in order.
func (a *Adapter) Published() []*eventhub.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*eventhub.Event, len(a.published))
	copy(out, a.published)
	return out
}
