package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// Cache is an in-memory key/value store with per-entry expiry. Expiry is
// lazy: an expired entry is dropped the first time Get sees it, there is no
// background sweep. There is also no capacity bound; keys are rounded
// coordinate buckets, which bounds growth in practice.
type Cache[V any] struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]entry[V]
	group   singleflight.Group
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func New[V any](clock clockwork.Clock) *Cache[V] {
	return &Cache[V]{
		clock:   clock,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the value for key if present and not expired. An expired entry
// is removed and treated as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, overwriting any existing entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)}
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch returns the cached value for key, or calls fn to produce it.
// Concurrent calls for the same cold key are coalesced into a single fn
// invocation; every caller receives that one result. Errors are not cached.
func (c *Cache[V]) Fetch(key string, ttl time.Duration, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that lost the race may arrive after the winning flight
		// finished; recheck before fetching again.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}
