package probe

import (
	"fmt"
	"sync"
)

// Fingerprint identifies a configuration for cache purposes. The key itself
// is deliberately excluded; only its presence matters, so rotating a key does
// not invalidate a known-good shape while adding or removing one does.
type Fingerprint struct {
	Provider string `json:"provider"`
	BaseURL  string `json:"base-url"`
	HasKey   bool   `json:"has-key"`
}

func FingerprintOf(provider, baseURL, apiKey string) Fingerprint {
	return Fingerprint{Provider: provider, BaseURL: baseURL, HasKey: apiKey != ""}
}

func (f Fingerprint) String() string {
	key := "no-key"
	if f.HasKey {
		key = "key"
	}
	return fmt.Sprintf("%s|%s|%s", f.Provider, f.BaseURL, key)
}

// Cache maps fingerprints to the shape that worked for them. Entries are
// evicted the moment a cached shape fails so a stale answer never pins a
// broken configuration.
type Cache struct {
	mu      sync.RWMutex
	entries map[Fingerprint]RequestShape
	hits    uint64
	misses  uint64
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Fingerprint]RequestShape)}
}

func (c *Cache) Get(fp Fingerprint) (RequestShape, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shape, ok := c.entries[fp]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return shape, ok
}

func (c *Cache) Put(fp Fingerprint, shape RequestShape) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fp] = shape
}

func (c *Cache) Evict(fp Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fp)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Fingerprint]RequestShape)
}

// Stats reports the cache size and hit counters for the debug surface.
func (c *Cache) Stats() (size int, hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), c.hits, c.misses
}

// Entries returns a snapshot keyed by the printable fingerprint form.
func (c *Cache) Entries() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.entries))
	for fp, shape := range c.entries {
		out[fp.String()] = shape.Name
	}
	return out
}
