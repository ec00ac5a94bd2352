package broker_test

import (
	"context"
	"testing"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/memory"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type BrokerSuite struct {
	test.Suite
}

func TestBrokerSuite(t *testing.T) {
	test.Run(t, new(BrokerSuite))
}

// TestAggregatePublishPartialFailure implements SPEC_FULL.md section 8
// scenario 5: one of two registered ports fails, the other still receives
// the event, and the registry reports the partial failure.
func (s *BrokerSuite) TestAggregatePublishPartialFailure() {
	p1 := memory.New("p1", false)
	p2 := memory.New("p2", false)
	p2.PublishFunc = func(ctx context.Context, e *eventhub.Event) error {
		return assertErr
	}

	reg := broker.NewRegistry()
	s.Require().NoError(reg.Register(p1))
	s.Require().NoError(reg.Register(p2))
	s.Require().NoError(reg.ConnectAll(s.Ctx))

	e := eventhub.NewEvent("order.created", "payload")
	err := reg.Publish(s.Ctx, e)

	s.Error(err)
	var batchErr *broker.BatchError
	s.ErrorAs(err, &batchErr)
	s.Len(batchErr.Failures, 1)
	s.Contains(batchErr.Failures, "p2")

	s.Len(p1.Published(), 1)
	s.Len(p2.Published(), 0)
}

func (s *BrokerSuite) TestSubscribeSkipsNonSubscribers() {
	pub := memory.New("publish-only", false)
	pub.DoSubscribe = nil
	reg := broker.NewRegistry()
	s.Require().NoError(reg.Register(pub))

	err := reg.Subscribe(s.Ctx, func(e *eventhub.Event) {})
	s.NoError(err)
	s.False(reg.IsSubscribed())
}

func (s *BrokerSuite) TestEchoAdapterDeliversToSubscriber() {
	a := memory.New("echo", true)
	s.Require().NoError(a.Connect(s.Ctx))

	received := make(chan *eventhub.Event, 1)
	s.Require().NoError(a.Subscribe(s.Ctx, func(e *eventhub.Event) {
		received <- e
	}))

	e := eventhub.NewEvent("ping", nil)
	s.Require().NoError(a.Publish(s.Ctx, e))

	select {
	case got := <-received:
		s.Equal(e.ID, got.ID)
	default:
		s.Fail("expected echoed event to be delivered synchronously")
	}

	m := a.Metrics()
	s.Equal(int64(1), m.TotalPublished)
	s.Equal(int64(1), m.TotalReceived)
}

var assertErr = eventhub.ErrDeliveryFailed("Publish", "simulated failure", nil)
