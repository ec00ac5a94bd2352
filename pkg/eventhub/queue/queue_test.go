package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub/queue"
	"github.com/chris-alexander-pop/go-eventhub/pkg/test"
)

type QueueSuite struct {
	test.Suite
}

func TestQueueSuite(t *testing.T) {
	test.Run(t, new(QueueSuite))
}

// TestBasicQueueScenario implements SPEC_FULL.md section 8 scenario 1.
func (s *QueueSuite) TestBasicQueueScenario() {
	q := queue.New(eventhub.QueueConfig{Name: "orders", MaxSize: 10, StorageType: eventhub.StorageFIFO})

	_, err := q.Send(map[string]string{"id": "o1"}, eventhub.PriorityNormal)
	s.NoError(err)
	_, err = q.Send(map[string]string{"id": "o2"}, eventhub.PriorityNormal)
	s.NoError(err)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		mu.Lock()
		seen = append(seen, msg.Event.Data.(map[string]string)["id"])
		count := len(seen)
		mu.Unlock()
		if count == 2 {
			close(done)
		}
		return nil
	}, eventhub.ConsumeOptions{})
	s.NoError(err)

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

// TestPriorityQueueScenario implements SPEC_FULL.md section 8 scenario 2.
func (s *QueueSuite) TestPriorityQueueScenario() {
	q := queue.New(eventhub.QueueConfig{Name: "payments", MaxSize: 10, StorageType: eventhub.StoragePriority})

	_, err := q.Send(map[string]string{"id": "p1"}, eventhub.PriorityNormal)
	s.NoError(err)
	_, err = q.Send(map[string]string{"id": "p2"}, eventhub.PriorityHigh)
	s.NoError(err)
	_, err = q.Send(map[string]string{"id": "p3"}, eventhub.PriorityNormal)
	s.NoError(err)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		mu.Lock()
		seen = append(seen, msg.Event.Data.(map[string]string)["id"])
		count := len(seen)
		mu.Unlock()
		if count == 3 {
			close(done)
		}
		return nil
	}, eventhub.ConsumeOptions{})
	s.NoError(err)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"p2", "p1", "p3"}, seen)
}

// TestRetryScenario implements SPEC_FULL.md section 8 scenario 4.
func (s *QueueSuite) TestRetryScenario() {
	q := queue.New(eventhub.QueueConfig{Name: "jobs", MaxSize: 10, StorageType: eventhub.StorageFIFO})

	_, err := q.Send("payload", eventhub.PriorityNormal)
	s.NoError(err)

	var attempts int32
	var mu sync.Mutex
	var lastDeliveryCount int
	done := make(chan struct{})

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		mu.Lock()
		attempts++
		n := attempts
		lastDeliveryCount = msg.Event.DeliveryCount()
		mu.Unlock()

		if n < 3 {
			msg.Nack(errors.New("transient failure"))
			return nil
		}
		msg.Ack()
		close(done)
		return nil
	}, eventhub.ConsumeOptions{MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	s.NoError(err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("timed out waiting for retries to exhaust")
	}

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	s.EqualValues(3, attempts)
	s.Equal(3, lastDeliveryCount)

	snap := q.Metrics()
	s.Equal(int64(0), snap.FailedMessages)
}

// TestRetryRespectsRetryAtOnFIFOStorage guards the §8 invariant "retries
// respect retryAt" for the default (FIFO) storage type: a nacked delivery
// must not be retried before RetryDelay has elapsed, not merely retried a
// bounded number of times.
func (s *QueueSuite) TestRetryRespectsRetryAtOnFIFOStorage() {
	q := queue.New(eventhub.QueueConfig{Name: "jobs-timed", MaxSize: 10, StorageType: eventhub.StorageFIFO})

	_, err := q.Send("payload", eventhub.PriorityNormal)
	s.NoError(err)

	const retryDelay = 100 * time.Millisecond
	var mu sync.Mutex
	var deliveries []time.Time
	done := make(chan struct{})

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		mu.Lock()
		deliveries = append(deliveries, time.Now())
		n := len(deliveries)
		mu.Unlock()

		if n < 2 {
			msg.Nack(errors.New("transient failure"))
			return nil
		}
		msg.Ack()
		close(done)
		return nil
	}, eventhub.ConsumeOptions{MaxRetries: 1, RetryDelay: retryDelay})
	s.NoError(err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("timed out waiting for the retried delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	s.Len(deliveries, 2)
	s.GreaterOrEqual(deliveries[1].Sub(deliveries[0]), retryDelay, "retried event was redelivered before its retryAt")
}

func (s *QueueSuite) TestAlreadyHasConsumer() {
	q := queue.New(eventhub.QueueConfig{Name: "q1", MaxSize: 10})

	_, err := q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		return nil
	}, eventhub.ConsumeOptions{})
	s.NoError(err)

	_, err = q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		return nil
	}, eventhub.ConsumeOptions{})
	s.ErrorIs(err, eventhub.ErrAlreadyHasConsumer)
}

func (s *QueueSuite) TestQueueFullRejectsWithoutSideEffects() {
	q := queue.New(eventhub.QueueConfig{Name: "bounded", MaxSize: 1})

	_, err := q.Send("first", eventhub.PriorityNormal)
	s.NoError(err)

	_, err = q.Send("second", eventhub.PriorityNormal)
	s.Error(err)

	var appErr *eventhub.Error
	s.ErrorAs(err, &appErr)
	s.Equal(eventhub.CodeQueueFull, appErr.Code)

	snap := q.Metrics()
	s.Equal(int64(1), snap.MessagesSent)
}

func (s *QueueSuite) TestStopDrainsInFlightHandler() {
	q := queue.New(eventhub.QueueConfig{Name: "draining", MaxSize: 10})

	handlerStarted := make(chan struct{})
	handlerFinished := make(chan struct{})

	_, err := q.Consume(func(ctx context.Context, msg *queue.ReceivedMessage) error {
		close(handlerStarted)
		time.Sleep(50 * time.Millisecond)
		close(handlerFinished)
		return nil
	}, eventhub.ConsumeOptions{})
	s.NoError(err)

	_, err = q.Send("work", eventhub.PriorityNormal)
	s.NoError(err)

	<-handlerStarted
	q.Stop()

	select {
	case <-handlerFinished:
	default:
		s.Fail("Stop returned before in-flight handler finished")
	}

	_, err = q.Send("after-stop", eventhub.PriorityNormal)
	s.ErrorIs(err, eventhub.ErrNotRunning)
}
