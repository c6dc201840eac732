package resilientcall

import "time"

// Administrative surface, consumed by operational tooling rather than by
// business logic. The leaf cache and breaker components are never driven
// directly by external callers — everything goes through the Client.

// CacheStats reports response-cache occupancy.
type CacheStats struct {
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
	Total   int `json:"total"`
}

// CircuitSnapshot is a point-in-time view of one origin's circuit.
type CircuitSnapshot struct {
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	WillRetryAt   time.Time `json:"will_retry_at,omitzero"`
}

// CircuitStats aggregates per-origin snapshots and state counts.
type CircuitStats struct {
	Origins  map[string]CircuitSnapshot `json:"origins"`
	Closed   int                        `json:"closed"`
	Open     int                        `json:"open"`
	HalfOpen int                        `json:"half_open"`
}

// CacheStats returns response-cache occupancy counts.
func (c *Client) CacheStats() CacheStats {
	c.mu.RLock()
	store := c.cache
	c.mu.RUnlock()
	s := store.Stats()
	return CacheStats{Valid: s.Valid, Expired: s.Expired, Total: s.Total}
}

// InvalidateCache removes a single cache entry by its fingerprint key.
func (c *Client) InvalidateCache(key string) {
	c.mu.RLock()
	store := c.cache
	c.mu.RUnlock()
	store.Delete(key)
}

// ClearCache removes all cache entries.
func (c *Client) ClearCache() {
	c.mu.RLock()
	store := c.cache
	c.mu.RUnlock()
	store.Clear()
}

// CircuitState returns the current state of the origin's circuit: "closed",
// "open", or "half_open". Unknown origins report "closed".
func (c *Client) CircuitState(origin string) string {
	c.mu.RLock()
	breakers := c.breakers
	c.mu.RUnlock()
	return breakers.State(origin).String()
}

// CircuitSnapshot returns a point-in-time view of the origin's circuit.
func (c *Client) CircuitSnapshot(origin string) CircuitSnapshot {
	c.mu.RLock()
	breakers := c.breakers
	c.mu.RUnlock()
	snap := breakers.Snapshot(origin)
	return CircuitSnapshot{
		State:         snap.State.String(),
		Failures:      snap.Failures,
		LastFailureAt: snap.LastFailureAt,
		WillRetryAt:   snap.WillRetryAt,
	}
}

// CircuitStats returns snapshots for every origin the client has called,
// plus aggregate open/closed/half-open counts.
func (c *Client) CircuitStats() CircuitStats {
	c.mu.RLock()
	breakers := c.breakers
	c.mu.RUnlock()

	internal := breakers.Stats()
	stats := CircuitStats{
		Origins:  make(map[string]CircuitSnapshot, len(internal.Origins)),
		Closed:   internal.Closed,
		Open:     internal.Open,
		HalfOpen: internal.HalfOpen,
	}
	for origin, snap := range internal.Origins {
		stats.Origins[origin] = CircuitSnapshot{
			State:         snap.State.String(),
			Failures:      snap.Failures,
			LastFailureAt: snap.LastFailureAt,
			WillRetryAt:   snap.WillRetryAt,
		}
	}
	return stats
}

// ResetCircuit returns one origin's circuit to closed.
func (c *Client) ResetCircuit(origin string) {
	c.mu.RLock()
	breakers := c.breakers
	c.mu.RUnlock()
	breakers.Reset(origin)
}

// ResetCircuits returns every tracked circuit to closed.
func (c *Client) ResetCircuits() {
	c.mu.RLock()
	breakers := c.breakers
	c.mu.RUnlock()
	breakers.ResetAll()
}
