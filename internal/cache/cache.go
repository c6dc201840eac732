// Package cache provides the TTL response cache used by the resilient call
// client. The default in-process implementation is Memory.
package cache

import "time"

// Stats reports cache occupancy. Expired counts entries still held but past
// their expiry (they are evicted lazily, on next read).
type Stats struct {
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
	Total   int `json:"total"`
}

// Cache defines the interface for response caching.
type Cache interface {
	// Get returns the cached payload for key, or false if missing or expired.
	Get(key string) (any, bool)
	// Set stores payload under key. ttl <= 0 uses the cache's default TTL.
	Set(key string, payload any, ttl time.Duration)
	// Delete removes a single entry.
	Delete(key string)
	// Clear removes all entries.
	Clear()
	// Len returns the number of entries currently held, expired or not.
	Len() int
	// Stats returns occupancy counts.
	Stats() Stats
}
