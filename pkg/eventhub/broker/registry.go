package broker

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/chris-alexander-pop/go-eventhub/pkg/eventhub"
	"github.com/chris-alexander-pop/go-eventhub/pkg/logger"
)

// Registry is the PortRegistry aggregate: a named collection of broker
// ports that fans a single Publish out to every registered port in
// parallel, collecting a BatchError for any that fail. Subscribe/Unsubscribe
// probe each port for the optional Subscriber capability and treat its
// absence as a no-op success.
type Registry struct {
	mu    sync.RWMutex
	ports map[string]Port
}

func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]Port)}
}

func (r *Registry) Register(p Port) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ports[p.Name()]; exists {
		return eventhub.ErrAlreadyExists("RegisterPort", "broker port already registered: "+p.Name())
	}
	r.ports[p.Name()] = p
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[name]; !ok {
		return eventhub.ErrNotFound("UnregisterPort", "broker port not found: "+name)
	}
	delete(r.ports, name)
	return nil
}

func (r *Registry) Get(name string) (Port, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[name]
	if !ok {
		return nil, eventhub.ErrNotFound("GetPort", "broker port not found: "+name)
	}
	return p, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ports))
	for name := range r.ports {
		names = append(names, name)
	}
	return names
}

// ConnectAll connects every registered port, returning the first error
// encountered after attempting all of them.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.RLock()
	ports := r.snapshot()
	r.mu.RUnlock()

	var firstErr error
	for _, p := range ports {
		if err := p.Connect(ctx); err != nil {
			logger.L().Error("broker port connect failed", "port", p.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.RLock()
	ports := r.snapshot()
	r.mu.RUnlock()

	var firstErr error
	for _, p := range ports {
		if err := p.Disconnect(ctx); err != nil {
			logger.L().Error("broker port disconnect failed", "port", p.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Publish mirrors the event to every registered port concurrently. Any
// per-port failures are reported together as a *BatchError keyed by port
// name, and do not prevent delivery to the other ports (spec scenario 5).
func (r *Registry) Publish(ctx context.Context, e *eventhub.Event) error {
	r.mu.RLock()
	ports := r.snapshot()
	r.mu.RUnlock()

	if len(ports) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := make(map[string]error)

	for _, p := range ports {
		wg.Add(1)
		go func(p Port) {
			defer wg.Done()
			if err := p.Publish(ctx, e); err != nil {
				mu.Lock()
				failures[p.Name()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}
	return nil
}

// Subscribe registers handler on every port that implements Subscriber.
// Ports without the capability are skipped silently.
func (r *Registry) Subscribe(ctx context.Context, handler InboundHandler) error {
	r.mu.RLock()
	ports := r.snapshot()
	r.mu.RUnlock()

	var firstErr error
	for _, p := range ports {
		sub, ok := p.(Subscriber)
		if !ok {
			continue
		}
		if err := sub.Subscribe(ctx, handler); err != nil && !isUnsupported(err) {
			logger.L().Error("broker port subscribe failed", "port", p.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) Unsubscribe(ctx context.Context) error {
	r.mu.RLock()
	ports := r.snapshot()
	r.mu.RUnlock()

	var firstErr error
	for _, p := range ports {
		sub, ok := p.(Subscriber)
		if !ok {
			continue
		}
		if err := sub.Unsubscribe(ctx); err != nil && !isUnsupported(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// isUnsupported reports whether err is the "does not support inbound
// subscription" sentinel BaseAdapter.Subscribe raises. The Instrumented and
// Resilient decorators always satisfy the Subscriber interface (their
// method set is static even when the wrapped adapter is publish-only, e.g.
// Kinesis), so the registry's type assertion alone can't detect the
// missing capability for a wrapped port - this check restores the "absent
// capability is a no-op success" contract for that case too.
func isUnsupported(err error) bool {
	var appErr *eventhub.Error
	return stderrors.As(err, &appErr) && appErr.Code == eventhub.CodeInvalidState
}

// IsReady reports whether any registered port is ready (OR over ports, per
// the spec's aggregate-subscriber contract). An empty registry is not ready
// - there is nothing backing it.
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.ports {
		if p.IsReady() {
			return true
		}
	}
	return false
}

// IsSubscribed reports whether any registered Subscriber-capable port is
// currently subscribed (OR over ports, matching IsReady).
func (r *Registry) IsSubscribed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.ports {
		if sub, ok := p.(Subscriber); ok && sub.IsSubscribed() {
			return true
		}
	}
	return false
}

func (r *Registry) Metrics() map[string]Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Metrics, len(r.ports))
	for name, p := range r.ports {
		out[name] = p.Metrics()
	}
	return out
}

func (r *Registry) snapshot() []Port {
	ports := make([]Port, 0, len(r.ports))
	for _, p := range r.ports {
		ports = append(ports, p)
	}
	return ports
}
