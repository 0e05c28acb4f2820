package providers

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Registry holds all registered provider clients and tracks which one is
// primary. The primary setting is authoritative: when set, it wins over
// registration order for every capability it supports.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	order   []string
	primary string
	log     zerolog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		log:     log.With().Str("component", "provider_registry").Logger(),
	}
}

// Register adds a client under its own name. Re-registering a name replaces
// the previous client but keeps its position in the fallback order.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.clients[name]; !exists {
		r.order = append(r.order, name)
	}
	r.clients[name] = c

	r.log.Info().
		Str("provider", name).
		Interface("capabilities", c.Capabilities()).
		Msg("Registered data provider")
}

// Get returns a client by name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetPrimary marks a registered provider as primary.
func (r *Registry) SetPrimary(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("cannot set primary: provider %q not registered", name)
	}
	r.primary = name
	r.log.Info().Str("provider", name).Msg("Primary data provider set")
	return nil
}

// Primary returns the primary client, falling back to the first registered
// client when no primary is set.
func (r *Registry) Primary() (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.primary != "" {
		c, ok := r.clients[r.primary]
		return c, ok
	}
	if len(r.order) > 0 {
		c, ok := r.clients[r.order[0]]
		return c, ok
	}
	return nil, false
}

// ForCapability returns the clients supporting a capability, primary first,
// the rest in registration order.
func (r *Registry) ForCapability(cap Capability) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Client
	if r.primary != "" {
		if c, ok := r.clients[r.primary]; ok && Supports(c, cap) {
			out = append(out, c)
		}
	}
	for _, name := range r.order {
		if name == r.primary {
			continue
		}
		if c := r.clients[name]; Supports(c, cap) {
			out = append(out, c)
		}
	}
	return out
}
