// Package cache layers response caching onto the remote client: a generic in-process
// MRU cache holds recently read records (L1) and, when a Redis connection is open, a
// shared Redis cache backs it (L2). The read-through Client wrapper composes both and
// invalidates on every mutation, compensations included.
package cache

import (
	"time"

	"github.com/sharedcode/rop"
)

// Cache is a generic MRU cache with bulk operations. Implementations maintain recency;
// entries expire after the configured TTL, a zero TTL disables expiry.
type Cache[TK comparable, TV any] interface {
	// Clear removes all entries.
	Clear()
	// Set inserts or updates the given key/value pairs, refreshing their recency.
	Set(items []rop.KeyValuePair[TK, TV])
	// Get looks up values for the given keys; missing or expired keys yield zero values.
	Get(keys []TK) []TV
	// Delete removes the given keys, if present.
	Delete(keys []TK)
	// Count returns the number of stored items, expired stragglers included.
	Count() int
	// IsFull reports whether the cache is at capacity.
	IsFull() bool
	// Evict drops least-recently-used entries until capacity is satisfied.
	Evict()
}

type cacheEntry[TK, TV any] struct {
	data TV
	node *lruNode[TK]
}

type memoryCache[TK comparable, TV any] struct {
	lookup map[TK]*cacheEntry[TK, TV]
	mru    *mru[TK, TV]
	ttl    time.Duration
}

// NewCache returns an in-process cache with MRU eviction. Not safe for concurrent use,
// see NewSynchronizedCache.
func NewCache[TK comparable, TV any](minCapacity, maxCapacity int, ttl time.Duration) Cache[TK, TV] {
	c := memoryCache[TK, TV]{
		lookup: make(map[TK]*cacheEntry[TK, TV], maxCapacity),
		ttl:    ttl,
	}
	c.mru = newMru(&c, minCapacity, maxCapacity)
	return &c
}

func (c *memoryCache[TK, TV]) Clear() {
	c.lookup = make(map[TK]*cacheEntry[TK, TV], c.mru.maxCapacity)
	c.mru = newMru(c, c.mru.minCapacity, c.mru.maxCapacity)
}

func (c *memoryCache[TK, TV]) expiry() time.Time {
	if c.ttl == 0 {
		return time.Time{}
	}
	return rop.Now().Add(c.ttl)
}

func (c *memoryCache[TK, TV]) Set(items []rop.KeyValuePair[TK, TV]) {
	for i := range items {
		if v, ok := c.lookup[items[i].Key]; ok {
			v.data = items[i].Value
			c.mru.remove(v.node)
			v.node = c.mru.add(items[i].Key, c.expiry())
			continue
		}
		n := c.mru.add(items[i].Key, c.expiry())
		c.lookup[items[i].Key] = &cacheEntry[TK, TV]{
			data: items[i].Value,
			node: n,
		}
	}
	c.Evict()
}

func (c *memoryCache[TK, TV]) Get(keys []TK) []TV {
	r := make([]TV, len(keys))
	for i := range keys {
		v, ok := c.lookup[keys[i]]
		if !ok {
			continue
		}
		if !v.node.expiresAt.IsZero() && v.node.expiresAt.Before(rop.Now()) {
			c.mru.remove(v.node)
			v.node = nil
			delete(c.lookup, keys[i])
			continue
		}
		c.mru.remove(v.node)
		v.node = c.mru.add(keys[i], v.node.expiresAt)
		r[i] = v.data
	}
	return r
}

func (c *memoryCache[TK, TV]) Delete(keys []TK) {
	for i := range keys {
		if v, ok := c.lookup[keys[i]]; ok {
			c.mru.remove(v.node)
			v.node = nil
			delete(c.lookup, keys[i])
		}
	}
}

func (c *memoryCache[TK, TV]) Count() int {
	return len(c.lookup)
}

func (c *memoryCache[TK, TV]) IsFull() bool {
	return c.mru.isFull()
}

func (c *memoryCache[TK, TV]) Evict() {
	c.mru.evict()
}
