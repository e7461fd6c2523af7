package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mu                  sync.Mutex
	hits, misses, evict int
	size                int
}

func (o *countingObserver) Hit()   { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) Miss()  { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) Evict() { o.mu.Lock(); o.evict++; o.mu.Unlock() }
func (o *countingObserver) Size(n int) {
	o.mu.Lock()
	o.size = n
	o.mu.Unlock()
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
}

func TestLRU_GetSet(t *testing.T) {
	c := New[string, int](2)

	_, _, evicted := c.Set("a", 1)
	assert.False(t, evicted)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so that b becomes the eviction victim.
	_, ok := c.Get("a")
	require.True(t, ok)

	k, v, evicted := c.Set("c", 3)
	require.True(t, evicted)
	assert.Equal(t, "b", k)
	assert.Equal(t, 2, v)

	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_UpdateDoesNotEvict(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	_, _, evicted := c.Set("a", 10)
	assert.False(t, evicted)
	assert.Equal(t, []string{"b", "a"}, c.Keys())

	v, _ := c.Peek("a")
	assert.Equal(t, 10, v)
}

func TestLRU_PeekDoesNotPromote(t *testing.T) {
	c := New[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Peek("a")
	require.True(t, ok)

	k, _, evicted := c.Set("c", 3)
	require.True(t, evicted)
	assert.Equal(t, "a", k)
}

func TestLRU_Oldest(t *testing.T) {
	c := New[string, int](3)
	_, _, ok := c.Oldest()
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("b", 2)
	k, v, ok := c.Oldest()
	require.True(t, ok)
	assert.Equal(t, "a", k)
	assert.Equal(t, 1, v)
}

func TestLRU_DeleteAndPurge(t *testing.T) {
	c := New[string, int](3)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestLRU_NeverExceedsCapacity(t *testing.T) {
	c := New[int, int](5)
	evictions := 0
	for i := 0; i < 100; i++ {
		if _, _, ev := c.Set(i, i); ev {
			evictions++
		}
		assert.LessOrEqual(t, c.Len(), 5)
	}
	assert.Equal(t, 95, evictions)
	assert.Equal(t, []int{95, 96, 97, 98, 99}, c.Keys())
}

func TestLRU_Observer(t *testing.T) {
	obs := &countingObserver{}
	c := New[string, int](1)
	c.SetObserver(obs)

	c.Set("a", 1)
	c.Get("a")
	c.Get("b")
	c.Set("b", 2)

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.evict)
	assert.Equal(t, 1, obs.size)
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	c := New[string, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*200+i)%32)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
