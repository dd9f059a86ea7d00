package render

import "sync"

type cacheEntry struct {
	state State
	icon  *Icon
}

// Cache holds exactly one generated icon per entity.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	generated uint64
	generate  func(State) *Icon
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), generate: Generate}
}

// GetOrCreate returns the cached icon for entityID when in quantizes to the
// same state as last time, and otherwise generates and stores a new one.
func (c *Cache) GetOrCreate(entityID string, in Input) *Icon {
	s := Quantize(in)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[entityID]; ok && e.state == s {
		return e.icon
	}
	icon := c.generate(s)
	c.generated++
	c.entries[entityID] = cacheEntry{state: s, icon: icon}
	return icon
}

// Get returns the current icon for entityID without generating one.
func (c *Cache) Get(entityID string) (*Icon, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[entityID]
	return e.icon, ok
}

// Evict removes the entry for entityID.
func (c *Cache) Evict(entityID string) {
	c.mu.Lock()
	delete(c.entries, entityID)
	c.mu.Unlock()
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Generated returns how many icons have been generated since construction.
func (c *Cache) Generated() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generated
}
