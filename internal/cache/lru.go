// Package cache provides the bounded, thread-safe caches used for project
// state and repository metadata.
//
// Two flavours exist:
//
//   - LRU keeps at most N entries and evicts the least recently used one on
//     insert. The caller learns about every eviction so it can react (for
//     example by flushing dirty state) before the value is forgotten.
//   - TTL is an LRU whose entries also expire a fixed duration after they
//     were written. Expired entries are dropped lazily on read and in bulk by
//     Sweep.
//
// Example usage:
//
//	c := cache.New[string, *State](20)
//	if k, v, evicted := c.Set(key, st); evicted {
//	    flush(k, v)
//	}
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Observer receives cache events. Implementations must be safe for
// concurrent use; they are invoked while the cache lock is held, so they
// must not call back into the cache.
type Observer interface {
	Hit()
	Miss()
	Evict()
	Size(n int)
}

type nopObserver struct{}

func (nopObserver) Hit()     {}
func (nopObserver) Miss()    {}
func (nopObserver) Evict()   {}
func (nopObserver) Size(int) {}

// LRU is a fixed-capacity least-recently-used cache.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	lru      *simplelru.LRU[K, V]
	obs      Observer
}

// New creates an LRU cache holding at most capacity entries.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be >= 1")
	}
	l, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	return &LRU[K, V]{capacity: capacity, lru: l, obs: nopObserver{}}
}

// SetObserver installs an observer for hit/miss/evict events.
func (c *LRU[K, V]) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.obs = o
}

// Capacity returns the configured maximum number of entries.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key)
	if ok {
		c.obs.Hit()
	} else {
		c.obs.Miss()
	}
	return v, ok
}

// Peek returns the value for key without touching its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Set inserts or updates key and marks it most recently used. When a new
// key is inserted into a full cache, the least recently used entry is
// removed and returned.
func (c *LRU[K, V]) Set(key K, val V) (evictedKey K, evictedVal V, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lru.Contains(key) && c.lru.Len() >= c.capacity {
		evictedKey, evictedVal, evicted = c.lru.RemoveOldest()
		if evicted {
			c.obs.Evict()
		}
	}
	c.lru.Add(key, val)
	c.obs.Size(c.lru.Len())
	return evictedKey, evictedVal, evicted
}

// Delete removes key. Reports whether it was present.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.lru.Remove(key)
	c.obs.Size(c.lru.Len())
	return ok
}

// Oldest returns the least recently used entry without removing it.
func (c *LRU[K, V]) Oldest() (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.GetOldest()
}

// Keys returns the keys ordered from least to most recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.obs.Size(0)
}
