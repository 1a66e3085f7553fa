package broadcast

import "sync"

// DefaultTopic is the topic all published events are broadcast on.
const DefaultTopic = "events"

// Registry hands out one Coordinator per topic, creating them on first use.
type Registry struct {
	opts Options

	mu     sync.Mutex
	coords map[string]*Coordinator
	closed bool
}

// NewRegistry returns an empty registry whose coordinators share opts.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, coords: make(map[string]*Coordinator)}
}

// Get returns the coordinator for topic, starting it if needed. After Close
// it returns nil.
func (r *Registry) Get(topic string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	c, ok := r.coords[topic]
	if !ok {
		c = NewCoordinator(topic, r.opts)
		r.coords[topic] = c
	}
	return c
}

// Topics returns the topics with a running coordinator.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.coords))
	for t := range r.coords {
		out = append(out, t)
	}
	return out
}

// Close stops every coordinator.
func (r *Registry) Close() {
	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*Coordinator)
	r.closed = true
	r.mu.Unlock()

	for _, c := range coords {
		c.Close()
	}
}
