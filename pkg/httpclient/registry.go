package httpclient

import (
	"sort"
	"sync"
)

// CircuitBreakerStatus is one breaker's state as reported by the health
// endpoint.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// Registry tracks the named clients used to reach upstream services (llm,
// image, tts) so their breaker states show up in health output. Registering
// an existing name replaces the client.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Register adds or replaces a named client.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.clients[name] = client
	r.mu.Unlock()
}

// Unregister removes a named client.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.clients, name)
	r.mu.Unlock()
}

// Get returns the named client, nil when absent.
func (r *Registry) Get(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCircuitBreakerStatuses snapshots every registered breaker, sorted by
// name so health output is stable.
func (r *Registry) GetCircuitBreakerStatuses() []CircuitBreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CircuitBreakerStatus, 0, len(r.clients))
	for name, c := range r.clients {
		out = append(out, CircuitBreakerStatus{
			Name:     name,
			State:    c.CircuitState().String(),
			Failures: c.breaker.Failures(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
