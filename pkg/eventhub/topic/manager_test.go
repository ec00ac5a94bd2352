package topic_test

import (
	"testing"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/topic"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type ManagerSuite struct {
	test.Suite
}

func TestManagerSuite(t *testing.T) {
	test.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) TestCreateGetDelete() {
	m := topic.NewManager()

	tp, err := m.Create(eventhub.TopicConfig{Name: "orders"})
	s.Require().NoError(err)

	got, err := m.Get("orders")
	s.Require().NoError(err)
	s.Same(tp, got)

	s.Require().NoError(m.Delete("orders"))
	_, err = m.Get("orders")
	s.Error(err)
}

func (s *ManagerSuite) TestCreateDuplicateRejected() {
	m := topic.NewManager()
	_, err := m.Create(eventhub.TopicConfig{Name: "dup"})
	s.Require().NoError(err)

	_, err = m.Create(eventhub.TopicConfig{Name: "dup"})
	s.Error(err)
}

// TestDeleteClosesSubscriptions guards the fix for the goroutine leak where
// dropping a topic from the manager's registry left its subscribers' delivery
// workers blocked on cond.Wait forever.
func (s *ManagerSuite) TestDeleteClosesSubscriptions() {
	m := topic.NewManager()
	tp, err := m.Create(eventhub.TopicConfig{Name: "leaky"})
	s.Require().NoError(err)

	delivered := make(chan struct{}, 1)
	tp.Subscribe(func(e *eventhub.Event) {
		delivered <- struct{}{}
	}, eventhub.SubscribeOptions{})

	s.Require().NoError(m.Delete("leaky"))
	s.Equal(0, tp.SubscriberCount())

	tp.Publish(eventhub.NewEvent("leaky", "after-delete"))

	select {
	case <-delivered:
		s.Fail("subscriber of a deleted topic must not still be receiving deliveries")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *ManagerSuite) TestDeleteUnknownTopic() {
	m := topic.NewManager()
	err := m.Delete("nope")
	s.Error(err)
}
