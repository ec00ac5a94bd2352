package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a snapshot-able counter set for one Queue, mirroring the
// per-queue fields the hub's Metrics() aggregates: sent, received, inQueue,
// pendingAcks, failed, avgProcessingMs, lastActivity.
type Metrics struct {
	sent           int64
	received       int64
	failed         int64
	pendingAcks    int64
	totalProcessNs int64
	processedCount int64

	mu           sync.Mutex
	lastActivity time.Time
}

// Snapshot is the immutable view returned by Queue.Metrics().
type Snapshot struct {
	MessagesSent    int64
	MessagesReceived int64
	FailedMessages  int64
	InQueue         int
	PendingAcks     int64
	AvgProcessingMs float64
	LastActivity    time.Time
}

func (m *Metrics) recordSent() {
	atomic.AddInt64(&m.sent, 1)
	m.touch()
}

func (m *Metrics) recordReceived() {
	atomic.AddInt64(&m.received, 1)
	m.touch()
}

func (m *Metrics) recordFailed() {
	atomic.AddInt64(&m.failed, 1)
	m.touch()
}

func (m *Metrics) recordProcessing(d time.Duration) {
	atomic.AddInt64(&m.totalProcessNs, d.Nanoseconds())
	atomic.AddInt64(&m.processedCount, 1)
}

func (m *Metrics) incPendingAcks(delta int64) {
	atomic.AddInt64(&m.pendingAcks, delta)
}

func (m *Metrics) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) snapshot(inQueue int) Snapshot {
	m.mu.Lock()
	last := m.lastActivity
	m.mu.Unlock()

	var avg float64
	if count := atomic.LoadInt64(&m.processedCount); count > 0 {
		avg = float64(atomic.LoadInt64(&m.totalProcessNs)) / float64(count) / float64(time.Millisecond)
	}

	return Snapshot{
		MessagesSent:     atomic.LoadInt64(&m.sent),
		MessagesReceived: atomic.LoadInt64(&m.received),
		FailedMessages:   atomic.LoadInt64(&m.failed),
		InQueue:          inQueue,
		PendingAcks:      atomic.LoadInt64(&m.pendingAcks),
		AvgProcessingMs:  avg,
		LastActivity:     last,
	}
}
