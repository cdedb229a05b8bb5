// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package cache provides a small thread-safe LRU cache for compiled
// artifacts that are expensive to rebuild, such as SPIR-V modules.
package cache

import (
	"container/list"
	"sync"
)

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe LRU cache holding at most capacity entries.
// A capacity of 0 means unlimited.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[K]*list.Element
	onEvict  func(K, V)

	hits, misses, evictions uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New creates a cache. onEvict, if non-nil, is called with the cache lock
// held for every entry evicted to make room.
func New[K comparable, V any](capacity int, onEvict func(K, V)) *Cache[K, V] {
	return &Cache[K, V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[K]*list.Element),
		onEvict:  onEvict,
	}
}

// Get returns the value cached for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// GetOrCreate returns the cached value for key, creating it with create on
// a miss. create runs under the cache lock, so concurrent callers never
// build the same value twice. Errors are returned and not cached.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return v, err
	}
	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: v})
	c.evictLocked()
	return v, nil
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	return ok
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Len:       len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictLocked drops least recently used entries beyond capacity.
// Caller must hold c.mu.
func (c *Cache[K, V]) evictLocked() {
	for c.capacity > 0 && len(c.entries) > c.capacity {
		el := c.order.Back()
		e := c.order.Remove(el).(*entry[K, V])
		delete(c.entries, e.key)
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(e.key, e.value)
		}
	}
}
