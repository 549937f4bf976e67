package embedding

import "sync"

// fifoCache is a capacity-bounded map with insertion-order eviction.
// Embeddings are immutable once computed, so eviction recency is not
// worth the bookkeeping of an LRU.
type fifoCache struct {
	mu       sync.Mutex
	entries  map[string][]float32
	order    []string
	capacity int
}

func newFIFOCache(capacity int) *fifoCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &fifoCache{
		entries:  make(map[string][]float32),
		capacity: capacity,
	}
}

func (c *fifoCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.entries[key]
	return vec, ok
}

func (c *fifoCache) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return
	}

	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = vec
	c.order = append(c.order, key)
}

func (c *fifoCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
