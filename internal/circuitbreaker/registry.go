package circuitbreaker

import "sync"

// Registry manages one Breaker per origin. Breakers are created lazily on
// first use and live for the registry's lifetime.
type Registry struct {
	mu       sync.Mutex
	cfg      Settings
	breakers map[string]*Breaker
}

// NewRegistry creates an empty Registry whose breakers share cfg.
func NewRegistry(cfg Settings) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

func (r *Registry) get(origin string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[origin]
	if !ok {
		b = NewBreaker(r.cfg)
		r.breakers[origin] = b
	}
	return b
}

// Allow reports whether a call to origin may proceed, claiming a probe slot
// if the origin's circuit is half-open.
func (r *Registry) Allow(origin string) bool {
	return r.get(origin).Allow()
}

// ReleaseProbe returns an abandoned probe slot for origin without recording
// an outcome.
func (r *Registry) ReleaseProbe(origin string) {
	r.get(origin).ReleaseProbe()
}

// RecordSuccess records a successful call to origin.
func (r *Registry) RecordSuccess(origin string) {
	r.get(origin).RecordSuccess()
}

// RecordFailure records a failed call to origin.
func (r *Registry) RecordFailure(origin string) {
	r.get(origin).RecordFailure()
}

// State returns the current state of the origin's circuit. Origins that have
// never been called report closed.
func (r *Registry) State(origin string) State {
	return r.get(origin).State()
}

// Snapshot returns a point-in-time view of the origin's circuit.
func (r *Registry) Snapshot(origin string) Snapshot {
	return r.get(origin).Snapshot()
}

// Reset returns the origin's circuit to closed. It is a no-op for unknown
// origins.
func (r *Registry) Reset(origin string) {
	r.mu.Lock()
	b, ok := r.breakers[origin]
	r.mu.Unlock()
	if ok {
		b.reset()
	}
}

// ResetAll returns every tracked circuit to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()
	for _, b := range breakers {
		b.reset()
	}
}

// Stats aggregates per-origin snapshots and state counts.
type Stats struct {
	Origins  map[string]Snapshot `json:"origins"`
	Closed   int                 `json:"closed"`
	Open     int                 `json:"open"`
	HalfOpen int                 `json:"half_open"`
}

// Stats returns snapshots for all tracked origins plus aggregate counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	breakers := make(map[string]*Breaker, len(r.breakers))
	for origin, b := range r.breakers {
		breakers[origin] = b
	}
	r.mu.Unlock()

	stats := Stats{Origins: make(map[string]Snapshot, len(breakers))}
	for origin, b := range breakers {
		snap := b.Snapshot()
		stats.Origins[origin] = snap
		switch snap.State {
		case StateOpen:
			stats.Open++
		case StateHalfOpen:
			stats.HalfOpen++
		default:
			stats.Closed++
		}
	}
	return stats
}
