package cache

import (
	"container/list"
	"sync"
	"time"
)

type memoryEntry struct {
	key       string
	payload   any
	cachedAt  time.Time
	expiresAt time.Time
}

// Memory is a thread-safe in-memory cache with TTL expiration and LRU
// eviction when a capacity is set. Expired entries are pruned lazily on Get;
// there is no background sweeper.
type Memory struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	items      map[string]*list.Element
	evictList  *list.List
}

// NewMemory creates a new in-memory cache. capacity <= 0 means unbounded;
// defaultTTL <= 0 falls back to 5 minutes.
func NewMemory(capacity int, defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Memory{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
	}
}

// Get returns the cached payload for key, or false if missing or expired.
// An expired entry is removed as a side effect.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeElement(elem)
		return nil, false
	}

	m.evictList.MoveToFront(elem)
	return entry.payload, true
}

// Set stores payload under key, overwriting any existing entry. ttl <= 0
// uses the default TTL.
func (m *Memory) Set(key string, payload any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.evictList.MoveToFront(elem)
		entry := elem.Value.(*memoryEntry)
		entry.payload = payload
		entry.cachedAt = now
		entry.expiresAt = now.Add(ttl)
		return
	}

	if m.capacity > 0 && m.evictList.Len() >= m.capacity {
		m.removeOldest()
	}

	entry := &memoryEntry{
		key:       key,
		payload:   payload,
		cachedAt:  now,
		expiresAt: now.Add(ttl),
	}
	elem := m.evictList.PushFront(entry)
	m.items[key] = elem
}

// Delete removes an entry from the cache.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Len returns the number of entries currently held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Clear removes all entries from the cache.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.evictList.Init()
}

// Stats counts valid versus expired entries without evicting anything.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stats := Stats{Total: m.evictList.Len()}
	for elem := m.evictList.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*memoryEntry).expiresAt) {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}

func (m *Memory) removeOldest() {
	elem := m.evictList.Back()
	if elem != nil {
		m.removeElement(elem)
	}
}

func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.key)
}
