package tokens

import "sync"

// DefaultCacheSize bounds the number of memoised (model, text) pairs.
const DefaultCacheSize = 4096

type cacheKey struct {
	model string
	text  string
}

// Cache memoises another Counter. Turns are immutable once logged, so a
// turn's cost never changes for a given model and every window build after
// the first reuses it. When the cache is full it is emptied and refilled.
type Cache struct {
	inner Counter
	size  int

	mu     sync.Mutex
	costs  map[cacheKey]int
	hits   uint64
	misses uint64
}

// NewCache wraps inner. A size of zero or less uses DefaultCacheSize.
func NewCache(inner Counter, size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{inner: inner, size: size, costs: make(map[cacheKey]int, size)}
}

// Count implements Counter.
func (c *Cache) Count(text, model string) int {
	key := cacheKey{model: model, text: text}

	c.mu.Lock()
	if n, ok := c.costs[key]; ok {
		c.hits++
		c.mu.Unlock()
		return n
	}
	c.misses++
	c.mu.Unlock()

	n := c.inner.Count(text, model)
	if n < 0 {
		n = 0
	}

	c.mu.Lock()
	if len(c.costs) >= c.size {
		clear(c.costs)
	}
	c.costs[key] = n
	c.mu.Unlock()
	return n
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of memoised entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.costs)
}
