package eventhub_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/broker/adapters/memory"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/internalbus"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/queue"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type HubSuite struct {
	test.Suite
}

func TestHubSuite(t *testing.T) {
	test.Run(t, new(HubSuite))
}

func (s *HubSuite) newRunningHub(name string) *eventhub.EventHub {
	h, err := eventhub.New(eventhub.HubConfig{Name: name})
	s.Require().NoError(err)
	s.Require().NoError(h.Initialize(s.Ctx))
	s.Require().NoError(h.Start(s.Ctx))
	return h
}

// TestBasicQueueScenario implements SPEC_FULL.md section 8 scenario 1.
func (s *HubSuite) TestBasicQueueScenario() {
	h := s.newRunningHub("hub-basic-queue")

	_, err := h.CreateQueue(eventhub.QueueConfig{Name: "orders", MaxSize: 10, StorageType: eventhub.StorageFIFO})
	s.Require().NoError(err)

	_, err = h.SendToQueue("orders", map[string]string{"id": "o1"}, eventhub.PriorityNormal)
	s.Require().NoError(err)
	_, err = h.SendToQueue("orders", map[string]string{"id": "o2"}, eventhub.PriorityNormal)
	s.Require().NoError(err)

	q, err := h.GetQueue("orders")
	s.Require().NoError(err)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		mu.Lock()
		seen = append(seen, msg.Event.Data.(map[string]string)["id"])
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
		return nil
	}, eventhub.ConsumeOptions{})
	s.Require().NoError(err)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"o1", "o2"}, seen)

	snap := q.Metrics()
	s.Equal(int64(2), snap.MessagesSent)
	s.Equal(int64(2), snap.MessagesReceived)
	s.Equal(int64(0), snap.FailedMessages)
}

// TestTopicFanOutScenario implements SPEC_FULL.md section 8 scenario 3.
func (s *HubSuite) TestTopicFanOutScenario() {
	h := s.newRunningHub("hub-topic-fanout")

	_, err := h.CreateTopic(eventhub.TopicConfig{Name: "user-activity"})
	s.Require().NoError(err)

	var mu sync.Mutex
	var s1Seen, s2Seen []string

	_, err = h.Subscribe("user-activity", func(e *eventhub.Event) {
		mu.Lock()
		s1Seen = append(s1Seen, e.Data.(map[string]string)["type"])
		mu.Unlock()
	}, eventhub.SubscribeOptions{})
	s.Require().NoError(err)

	_, err = h.Subscribe("user-activity", func(e *eventhub.Event) {
		mu.Lock()
		s2Seen = append(s2Seen, e.Data.(map[string]string)["type"])
		mu.Unlock()
	}, eventhub.SubscribeOptions{
		Filter: func(e *eventhub.Event) bool {
			return e.Data.(map[string]string)["type"] == "login"
		},
	})
	s.Require().NoError(err)

	_, err = h.PublishToTopic(s.Ctx, "user-activity", map[string]string{"type": "login", "user": "u1"})
	s.Require().NoError(err)
	_, err = h.PublishToTopic(s.Ctx, "user-activity", map[string]string{"type": "logout", "user": "u1"})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(s1Seen) == 2 && len(s2Seen) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"login", "logout"}, s1Seen)
	s.Equal([]string{"login"}, s2Seen)
}

// TestAggregatePublishScenario implements SPEC_FULL.md section 8 scenario 5:
// one of two registered ports fails, the other still receives the event,
// local topic subscribers are unaffected, and per-port metrics reflect the
// partial outcome.
func (s *HubSuite) TestAggregatePublishScenario() {
	h := s.newRunningHub("hub-aggregate-publish")

	_, err := h.CreateTopic(eventhub.TopicConfig{Name: "t"})
	s.Require().NoError(err)

	received := make(chan struct{}, 1)
	_, err = h.Subscribe("t", func(e *eventhub.Event) {
		received <- struct{}{}
	}, eventhub.SubscribeOptions{})
	s.Require().NoError(err)

	p1 := memory.New("p1", false)
	p2 := memory.New("p2", false)
	p2.PublishFunc = func(ctx context.Context, e *eventhub.Event) error {
		return errors.New("simulated transport failure")
	}
	s.Require().NoError(h.RegisterPort(p1))
	s.Require().NoError(h.RegisterPort(p2))

	_, err = h.PublishToTopic(s.Ctx, "t", map[string]int{"x": 1})
	s.Error(err)

	select {
	case <-received:
	case <-time.After(time.Second):
		s.Fail("local topic subscriber never received the event despite port failure")
	}

	metrics := h.MetricsSnapshot()
	s.Equal(int64(1), metrics.Ports["p1"].TotalPublished)
	s.Equal(int64(1), metrics.Ports["p2"].TotalFailed)
}

// TestShutdownScenario implements SPEC_FULL.md section 8 scenario 6.
func (s *HubSuite) TestShutdownScenario() {
	h := s.newRunningHub("hub-shutdown")

	_, err := h.CreateQueue(eventhub.QueueConfig{Name: "work", MaxSize: 10})
	s.Require().NoError(err)
	q, err := h.GetQueue("work")
	s.Require().NoError(err)

	handlerStarted := make(chan struct{})
	handlerFinished := make(chan struct{})
	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		close(handlerStarted)
		time.Sleep(50 * time.Millisecond)
		close(handlerFinished)
		return nil
	}, eventhub.ConsumeOptions{})
	s.Require().NoError(err)

	_, err = h.SendToQueue("work", "payload", eventhub.PriorityNormal)
	s.Require().NoError(err)

	<-handlerStarted
	s.Require().NoError(h.Stop(s.Ctx))

	select {
	case <-handlerFinished:
	default:
		s.Fail("Stop returned before the in-flight handler finished")
	}

	_, err = h.SendToQueue("work", "after-stop", eventhub.PriorityNormal)
	s.ErrorIs(err, eventhub.ErrNotRunning)
	s.Equal(eventhub.StateStopped, h.State())
}

// TestLifecycleRejectsInvalidTransitions covers the monotonic state machine:
// Start before Initialize, double Initialize, and Stop before Start all
// reject; stopped -> Initialize is rejected (a new hub must be built).
func (s *HubSuite) TestLifecycleRejectsInvalidTransitions() {
	h, err := eventhub.New(eventhub.HubConfig{Name: "hub-lifecycle"})
	s.Require().NoError(err)

	err = h.Start(s.Ctx)
	s.Error(err)

	s.Require().NoError(h.Initialize(s.Ctx))
	err = h.Initialize(s.Ctx)
	s.Error(err)

	err = h.Stop(s.Ctx)
	s.Error(err)

	s.Require().NoError(h.Start(s.Ctx))
	s.Require().NoError(h.Stop(s.Ctx))

	err = h.Initialize(s.Ctx)
	s.Error(err)
}

// TestCreateDeleteRecreateQueue covers the round-trip idempotence property.
func (s *HubSuite) TestCreateDeleteRecreateQueue() {
	h := s.newRunningHub("hub-recreate")

	cfg := eventhub.QueueConfig{Name: "recreate-me", MaxSize: 5}
	_, err := h.CreateQueue(cfg)
	s.Require().NoError(err)

	s.Require().NoError(h.DeleteQueue(cfg.Name))

	_, err = h.CreateQueue(cfg)
	s.NoError(err)
}

// TestOnTypeBusDeliversToMatchingListeners covers Emit/Publish/On/Off, the
// hub-level pub-sub bus distinct from named Topics.
func (s *HubSuite) TestOnTypeBusDeliversToMatchingListeners() {
	h := s.newRunningHub("hub-on-bus")

	var mu sync.Mutex
	var received []interface{}

	sub := h.On("order.created", func(e *eventhub.Event) {
		mu.Lock()
		received = append(received, e.Data)
		mu.Unlock()
	})
	s.NotEmpty(sub.ID)

	_, err := h.Publish("order.created", map[string]int{"amount": 42})
	s.Require().NoError(err)
	_, err = h.Publish("order.shipped", "ignored")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	s.Require().NoError(h.Off(sub.ID))

	_, err = h.Publish("order.created", map[string]int{"amount": 99})
	s.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Len(received, 1)
}

// TestInternalBusObservesLifecycleEvents covers OnInternal/OffInternal: the
// hub publishes queue.created for every CreateQueue call, and an
// unsubscribed handler stops observing further notifications.
func (s *HubSuite) TestInternalBusObservesLifecycleEvents() {
	h := s.newRunningHub("hub-internal-bus")

	var mu sync.Mutex
	var kinds []internalbus.Kind
	id := h.OnInternal(internalbus.AllKinds, func(n internalbus.Notification) {
		mu.Lock()
		kinds = append(kinds, n.Kind)
		mu.Unlock()
	})

	_, err := h.CreateQueue(eventhub.QueueConfig{Name: "observed", MaxSize: 10})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 1
	}, time.Second, 5*time.Millisecond)

	h.OffInternal(id)

	_, err = h.CreateQueue(eventhub.QueueConfig{Name: "observed-2", MaxSize: 10})
	s.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]internalbus.Kind{internalbus.QueueCreated}, kinds)
}

// TestUnsubscribeEffectiveImmediate covers the topic's "effective-immediate
// for publications started after unsubscribe" invariant.
func (s *HubSuite) TestUnsubscribeEffectiveImmediate() {
	h := s.newRunningHub("hub-unsubscribe")

	_, err := h.CreateTopic(eventhub.TopicConfig{Name: "t"})
	s.Require().NoError(err)

	var count int32
	var mu sync.Mutex
	id, err := h.Subscribe("t", func(e *eventhub.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, eventhub.SubscribeOptions{})
	s.Require().NoError(err)

	_, err = h.PublishToTopic(s.Ctx, "t", "first")
	s.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	s.Require().NoError(h.Unsubscribe("t", id))

	_, err = h.PublishToTopic(s.Ctx, "t", "second")
	s.Require().NoError(err)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.EqualValues(1, count)
}
