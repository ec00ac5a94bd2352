package queue

import (
	"sync"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
)

// Manager is a keyed registry of named queues, protected by a single mutex
// (per-map exclusion, per the spec's concurrency model — see DESIGN.md for
// why a sharded map was rejected).
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

func NewManager() *Manager {
	return &Manager{queues: make(map[string]*Queue)}
}

// Create registers and eagerly starts a new queue. It rejects duplicate
// names and invalid configuration.
func (m *Manager) Create(config eventhub.QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, eventhub.ErrInvalidConfig("CreateQueue", "name is required", nil)
	}
	if config.MaxSize < 0 {
		return nil, eventhub.ErrInvalidConfig("CreateQueue", "maxSize must be > 0", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[config.Name]; exists {
		return nil, eventhub.ErrAlreadyExists("CreateQueue", "queue already exists: "+config.Name)
	}

	q := New(config)
	m.queues[config.Name] = q
	return q, nil
}

func (m *Manager) Get(name string) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[name]
	if !ok {
		return nil, eventhub.ErrNotFound("GetQueue", "queue not found: "+name)
	}
	return q, nil
}

// Delete stops then removes the named queue.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	q, ok := m.queues[name]
	if !ok {
		m.mu.Unlock()
		return eventhub.ErrNotFound("DeleteQueue", "queue not found: "+name)
	}
	delete(m.queues, name)
	m.mu.Unlock()

	q.Stop()
	return nil
}

// StopAll stops every registered queue concurrently and waits for all of
// them. Queue.Stop returns no error, so there is no failure to report.
func (m *Manager) StopAll() {
	m.mu.RLock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			q.Stop()
		}(q)
	}
	wg.Wait()
}

// List returns the names of all registered queues.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

// Metrics aggregates a Snapshot per queue, keyed by name.
func (m *Manager) Metrics() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.queues))
	for name, q := range m.queues {
		out[name] = q.Metrics()
	}
	return out
}
