package internalbus_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/internalbus"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type InternalBusSuite struct {
	test.Suite
}

func TestInternalBusSuite(t *testing.T) {
	test.Run(t, new(InternalBusSuite))
}

func (s *InternalBusSuite) TestSubscribeReceivesNotification() {
	bus := internalbus.New()

	var got internalbus.Notification
	bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { got = n })

	bus.Publish(internalbus.QueueCreated, map[string]interface{}{"queue": "orders"})

	s.Equal(internalbus.QueueCreated, got.Kind)
	s.Equal("orders", got.Details["queue"])
}

func (s *InternalBusSuite) TestUnsubscribeStopsDelivery() {
	bus := internalbus.New()

	count := 0
	id := bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { count++ })
	bus.Unsubscribe(id)

	bus.Publish(internalbus.TopicCreated, nil)
	s.Equal(0, count)
}

func (s *InternalBusSuite) TestPanickingHandlerDoesNotBlockOthers() {
	bus := internalbus.New()

	delivered := false
	bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { panic("boom") })
	bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { delivered = true })

	bus.Publish(internalbus.PortRegistered, nil)
	s.True(delivered)
}

func (s *InternalBusSuite) TestCloseSuppressesFurtherPublish() {
	bus := internalbus.New()

	count := 0
	bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { count++ })
	s.Require().NoError(bus.Close())

	bus.Publish(internalbus.BrokerConnected, nil)
	s.Equal(0, count)
}

func (s *InternalBusSuite) TestSubscribeFiltersByKind() {
	bus := internalbus.New()

	var queueCount, topicCount int
	bus.Subscribe(internalbus.QueueCreated, func(n internalbus.Notification) { queueCount++ })
	bus.Subscribe(internalbus.TopicCreated, func(n internalbus.Notification) { topicCount++ })

	bus.Publish(internalbus.QueueCreated, nil)
	bus.Publish(internalbus.TopicCreated, nil)
	bus.Publish(internalbus.TopicCreated, nil)

	s.Equal(1, queueCount)
	s.Equal(2, topicCount)
}

func (s *InternalBusSuite) TestNotificationTimestampIsRecent() {
	bus := internalbus.New()

	var got internalbus.Notification
	bus.Subscribe(internalbus.AllKinds, func(n internalbus.Notification) { got = n })
	bus.Publish(internalbus.MessageSent, nil)

	s.WithinDuration(time.Now(), got.Timestamp, time.Second)
}
