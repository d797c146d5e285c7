package circuitbreaker

import "sync"

// Registry manages circuit breakers keyed by destination.
// Breakers are created lazily on first access.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a new registry with the given default config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the circuit breaker for a key, creating one if needed.
func (r *Registry) Get(key string) *Breaker {
	r.mu.RLock()
	b, exists := r.breakers[key]
	r.mu.RUnlock()
	if exists {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, exists = r.breakers[key]; exists {
		return b
	}
	b = New(r.config)
	r.breakers[key] = b
	return b
}

// Stats holds registry statistics.
type Stats struct {
	Total    int // Total breakers
	Open     int // Breakers in open state
	HalfOpen int // Breakers in half-open state
	Closed   int // Breakers in closed state
}

// Stats returns statistics about the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.breakers)}
	for _, b := range r.breakers {
		switch b.State() {
		case Open:
			stats.Open++
		case HalfOpen:
			stats.HalfOpen++
		case Closed:
			stats.Closed++
		}
	}
	return stats
}
