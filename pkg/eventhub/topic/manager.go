package topic

import (
	"sync"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
)

// Manager is a keyed registry of named topics, parallel to queue.Manager.
type Manager struct {
	mu     sync.RWMutex
	topics map[string]*Topic
}

func NewManager() *Manager {
	return &Manager{topics: make(map[string]*Topic)}
}

func (m *Manager) Create(config eventhub.TopicConfig) (*Topic, error) {
	if config.Name == "" {
		return nil, eventhub.ErrInvalidConfig("CreateTopic", "name is required", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.topics[config.Name]; exists {
		return nil, eventhub.ErrAlreadyExists("CreateTopic", "topic already exists: "+config.Name)
	}

	t := New(config)
	m.topics[config.Name] = t
	return t, nil
}

func (m *Manager) Get(name string) (*Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[name]
	if !ok {
		return nil, eventhub.ErrNotFound("GetTopic", "topic not found: "+name)
	}
	return t, nil
}

// Delete removes the named topic and closes its subscriptions, so the
// per-subscriber delivery goroutines Subscribe started don't leak.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	t, ok := m.topics[name]
	if !ok {
		m.mu.Unlock()
		return eventhub.ErrNotFound("DeleteTopic", "topic not found: "+name)
	}
	delete(m.topics, name)
	m.mu.Unlock()

	t.Close()
	return nil
}

// ListTopics returns the names of all registered topics.
func (m *Manager) ListTopics() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	return names
}

func (m *Manager) Metrics() map[string]struct {
	Subscribers int
	Published   int64
	Delivered   int64
	Failed      int64
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct {
		Subscribers int
		Published   int64
		Delivered   int64
		Failed      int64
	}, len(m.topics))

	for name, t := range m.topics {
		subs, pub, del, fail := t.Metrics()
		out[name] = struct {
			Subscribers int
			Published   int64
			Delivered   int64
			Failed      int64
		}{subs, pub, del, fail}
	}
	return out
}
