package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type ttlEntry[V any] struct {
	val       V
	expiresAt time.Time
}

// TTL is a bounded LRU cache whose entries expire a fixed duration after
// they were last written.
type TTL[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	lru      *simplelru.LRU[K, ttlEntry[V]]
	now      func() time.Time
	obs      Observer
}

// TTLOption configures a TTL cache.
type TTLOption func(*ttlOptions)

type ttlOptions struct {
	now func() time.Time
	obs Observer
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) TTLOption {
	return func(o *ttlOptions) { o.now = now }
}

// WithObserver installs an observer at construction time.
func WithObserver(obs Observer) TTLOption {
	return func(o *ttlOptions) { o.obs = obs }
}

// NewTTL creates a TTL cache with at most capacity entries, each living
// for ttl after its last Set. Panics if capacity < 1 or ttl <= 0.
func NewTTL[K comparable, V any](capacity int, ttl time.Duration, opts ...TTLOption) *TTL[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be >= 1")
	}
	if ttl <= 0 {
		panic("cache: ttl must be > 0")
	}
	o := ttlOptions{now: time.Now, obs: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	l, err := simplelru.NewLRU[K, ttlEntry[V]](capacity, nil)
	if err != nil {
		panic(fmt.Sprintf("cache: %v", err))
	}
	return &TTL[K, V]{
		capacity: capacity,
		ttl:      ttl,
		lru:      l,
		now:      o.now,
		obs:      o.obs,
	}
}

// Get returns the live value for key. An expired entry is removed and
// reported as absent.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		c.obs.Miss()
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		c.obs.Miss()
		c.obs.Size(c.lru.Len())
		return zero, false
	}
	c.obs.Hit()
	return e.val, true
}

// Set stores val under key with a fresh expiry. If a new key does not fit,
// expired entries are swept first and then the least recently used entry
// is evicted and returned.
func (c *TTL[K, V]) Set(key K, val V) (evictedKey K, evictedVal V, evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lru.Contains(key) && c.lru.Len() >= c.capacity {
		c.sweepLocked(now)
		if c.lru.Len() >= c.capacity {
			var e ttlEntry[V]
			evictedKey, e, evicted = c.lru.RemoveOldest()
			if evicted {
				evictedVal = e.val
				c.obs.Evict()
			}
		}
	}
	c.lru.Add(key, ttlEntry[V]{val: val, expiresAt: now.Add(c.ttl)})
	c.obs.Size(c.lru.Len())
	return evictedKey, evictedVal, evicted
}

// Delete removes key. Reports whether it was present.
func (c *TTL[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.lru.Remove(key)
	c.obs.Size(c.lru.Len())
	return ok
}

// Sweep removes every expired entry and returns how many were removed.
func (c *TTL[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *TTL[K, V]) sweepLocked(now time.Time) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !now.Before(e.expiresAt) {
			c.lru.Remove(k)
			removed++
		}
	}
	if removed > 0 {
		c.obs.Size(c.lru.Len())
	}
	return removed
}

// Range sweeps expired entries and calls fn for each live entry from least
// to most recently used until fn returns false. Recency is not changed.
func (c *TTL[K, V]) Range(fn func(K, V) bool) {
	c.mu.Lock()
	c.sweepLocked(c.now())
	keys := c.lru.Keys()
	vals := make([]V, 0, len(keys))
	for _, k := range keys {
		e, _ := c.lru.Peek(k)
		vals = append(vals, e.val)
	}
	c.mu.Unlock()

	for i, k := range keys {
		if !fn(k, vals[i]) {
			return
		}
	}
}

// Len returns the number of stored entries, including expired ones that
// have not been swept yet.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// StartJanitor sweeps the cache every interval until ctx is cancelled.
// The returned channel is closed once the janitor goroutine has exited.
func (c *TTL[K, V]) StartJanitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
	return done
}
