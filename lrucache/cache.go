/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

func (e *cacheEntry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// LRUCache represents an LRU cache with expiration and Prometheus metrics.
type LRUCache[K comparable, V any] struct {
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	lruList *list.List
	entries map[K]*list.Element

	metricsCollector MetricsCollector
}

// Options represents options for the cache.
type Options struct {
	// DefaultTTL is the default TTL for the cache entries (0 means no expiration).
	// Expired entries are removed lazily on access or by RemoveExpired.
	DefaultTTL time.Duration

	// TimeNow is a clock used for expiration. time.Now is used if nil.
	TimeNow func() time.Time
}

// New creates a new LRUCache with the provided maximum number of entries and metrics collector.
func New[K comparable, V any](maxEntries int, metricsCollector MetricsCollector) (*LRUCache[K, V], error) {
	return NewWithOpts[K, V](maxEntries, metricsCollector, Options{})
}

// NewWithOpts creates a new LRUCache with the provided maximum number of entries, metrics collector, and options.
// Metrics collector can be nil, in this case, metrics will be disabled.
func NewWithOpts[K comparable, V any](maxEntries int, metricsCollector MetricsCollector, opts Options) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("defaultTTL must be greater or equal to 0 (no expiration)")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetricsCollector
	}
	if opts.TimeNow == nil {
		opts.TimeNow = time.Now
	}
	return &LRUCache[K, V]{
		maxEntries:       maxEntries,
		defaultTTL:       opts.DefaultTTL,
		now:              opts.TimeNow,
		lruList:          list.New(),
		entries:          make(map[K]*list.Element),
		metricsCollector: metricsCollector,
	}, nil
}

// Get returns a value from the cache by the provided key.
// An expired entry is removed and reported as missing.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, hit := c.entries[key]
	if !hit {
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	if entry.expired(c.now()) {
		c.removeElement(elem)
		c.metricsCollector.AddExpirations(1)
		c.metricsCollector.SetAmount(len(c.entries))
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metricsCollector.IncHits()
	return entry.value, true
}

// Add adds a value to the cache with the default TTL, replacing any existing value and its expiration.
// If the cache is full, the least recently used entry is evicted.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.defaultTTL > 0 {
		expiresAt = c.now().Add(c.defaultTTL)
	}
	entry := &cacheEntry[K, V]{key: key, value: value, expiresAt: expiresAt}

	if elem, ok := c.entries[key]; ok {
		elem.Value = entry
		c.lruList.MoveToFront(elem)
		return
	}

	c.entries[key] = c.lruList.PushFront(entry)
	if len(c.entries) > c.maxEntries {
		if oldest := c.lruList.Back(); oldest != nil {
			c.removeElement(oldest)
			c.metricsCollector.AddEvictions(1)
		}
	}
	c.metricsCollector.SetAmount(len(c.entries))
}

// RemoveExpired removes all expired entries and returns how many were removed.
// Entries without expiration time are not affected.
func (c *LRUCache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lruList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*cacheEntry[K, V]).expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	if removed > 0 {
		c.metricsCollector.AddExpirations(removed)
		c.metricsCollector.SetAmount(len(c.entries))
	}
	return removed
}

// Purge clears the cache. Removed entries are not counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.lruList.Init()
	c.metricsCollector.SetAmount(0)
}

// Len returns the number of entries in the cache, including expired ones not yet removed.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	c.lruList.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry[K, V]).key)
}
