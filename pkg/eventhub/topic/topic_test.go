package topic_test

import (
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/topic"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type TopicSuite struct {
	test.Suite
}

func TestTopicSuite(t *testing.T) {
	test.Run(t, new(TopicSuite))
}

// TestFanOutScenario implements SPEC_FULL.md section 8 scenario 3.
func (s *TopicSuite) TestFanOutScenario() {
	tp := topic.New(eventhub.TopicConfig{Name: "user-activity"})

	var mu sync.Mutex
	var s1Seen, s2Seen []string

	var wg sync.WaitGroup
	wg.Add(3) // s1 gets 2, s2 gets 1

	tp.Subscribe(func(e *eventhub.Event) {
		mu.Lock()
		s1Seen = append(s1Seen, e.Data.(map[string]string)["type"])
		mu.Unlock()
		wg.Done()
	}, eventhub.SubscribeOptions{})

	tp.Subscribe(func(e *eventhub.Event) {
		mu.Lock()
		s2Seen = append(s2Seen, e.Data.(map[string]string)["type"])
		mu.Unlock()
		wg.Done()
	}, eventhub.SubscribeOptions{
		Filter: func(e *eventhub.Event) bool {
			return e.Data.(map[string]string)["type"] == "login"
		},
	})

	tp.Publish(eventhub.NewEvent("user-activity", map[string]string{"type": "login", "user": "u1"}))
	tp.Publish(eventhub.NewEvent("user-activity", map[string]string{"type": "logout", "user": "u1"}))

	waitOrFail(s, &wg)

	mu.Lock()
	defer mu.Unlock()
	s.ElementsMatch([]string{"login", "logout"}, s1Seen)
	s.Equal([]string{"login"}, s2Seen)
}

func (s *TopicSuite) TestPanickingFilterDoesNotDeliver() {
	tp := topic.New(eventhub.TopicConfig{Name: "t"})

	delivered := make(chan struct{}, 1)
	tp.Subscribe(func(e *eventhub.Event) {
		delivered <- struct{}{}
	}, eventhub.SubscribeOptions{
		Filter: func(e *eventhub.Event) bool {
			panic("boom")
		},
	})

	tp.Publish(eventhub.NewEvent("t", "x"))

	select {
	case <-delivered:
		s.Fail("panicking filter must not deliver")
	case <-time.After(100 * time.Millisecond):
	}

	_, _, _, _ = tp.Metrics()
}

func (s *TopicSuite) TestOnceSubscriptionAutoRemoved() {
	tp := topic.New(eventhub.TopicConfig{Name: "t"})

	var count int
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	tp.Subscribe(func(e *eventhub.Event) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	}, eventhub.SubscribeOptions{Once: true})

	tp.Publish(eventhub.NewEvent("t", 1))
	<-done
	time.Sleep(20 * time.Millisecond)
	s.Equal(0, tp.SubscriberCount())

	tp.Publish(eventhub.NewEvent("t", 2))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal(1, count)
}

// TestPerSubscriberFIFO guards the §5 invariant that a single subscriber
// observes events in publish order, even though each subscriber is
// delivered to on its own goroutine independent of the others.
func (s *TopicSuite) TestPerSubscriberFIFO() {
	tp := topic.New(eventhub.TopicConfig{Name: "ordered"})

	const n = 200
	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})

	tp.Subscribe(func(e *eventhub.Event) {
		mu.Lock()
		seen = append(seen, e.Data.(int))
		if len(seen) == n {
			close(done)
		}
		mu.Unlock()
	}, eventhub.SubscribeOptions{})

	for i := 0; i < n; i++ {
		tp.Publish(eventhub.NewEvent("ordered", i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("timed out waiting for all deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	s.Len(seen, n)
	for i, v := range seen {
		s.Equal(i, v, "subscriber must observe events in publish order")
	}
}

// TestCloseStopsSubscriberWorkers guards against the goroutine leak a naive
// topic teardown would cause: Close removes every subscription and signals
// its delivery worker to exit, so a publish after Close reaches none of the
// former subscribers.
func (s *TopicSuite) TestCloseStopsSubscriberWorkers() {
	tp := topic.New(eventhub.TopicConfig{Name: "t"})

	delivered := make(chan struct{}, 1)
	tp.Subscribe(func(e *eventhub.Event) {
		delivered <- struct{}{}
	}, eventhub.SubscribeOptions{})

	tp.Close()
	s.Equal(0, tp.SubscriberCount())

	tp.Publish(eventhub.NewEvent("t", "after-close"))

	select {
	case <-delivered:
		s.Fail("closed topic must not deliver to its former subscribers")
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *TopicSuite) TestUnsubscribeUnknownID() {
	tp := topic.New(eventhub.TopicConfig{Name: "t"})
	err := tp.Unsubscribe("nope")
	s.ErrorIs(err, eventhub.ErrUnknownSubscription)
}

func waitOrFail(s *TopicSuite, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("timed out waiting for fan-out delivery")
	}
}
