// Package cache provides a fingerprint-keyed LRU cache with TTL used for
// dashboard assembly and decline-prediction results. Expiry is lazy on
// read plus an explicit sweep for the background cleaner.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is an LRU cache with per-entry TTL. All methods are safe for
// concurrent use.
type Cache[V any] struct {
	cache      map[Fingerprint]*entry[V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

type entry[V any] struct {
	computedAt time.Time
	expiresAt  time.Time
	element    *list.Element
	key        Fingerprint
	value      V
}

// Stats is a snapshot of cache occupancy and effectiveness.
type Stats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hitRate"`
}

// New creates a Cache bounded at capacity entries with the given default TTL.
func New[V any](capacity int, defaultTTL time.Duration) *Cache[V] {
	return NewWithClock[V](capacity, defaultTTL, time.Now)
}

// NewWithClock is New with an injected clock for tests.
func NewWithClock[V any](capacity int, defaultTTL time.Duration, now func() time.Time) *Cache[V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Cache[V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		cache:      make(map[Fingerprint]*entry[V]),
		order:      list.New(),
		now:        now,
	}
}

// Get returns the value for key if present and unexpired. An expired
// entry is removed on the spot and reported as a miss.
func (c *Cache[V]) Get(key Fingerprint) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		var zero V
		return zero, false
	}

	c.order.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Age reports how long ago the entry for key was computed. The boolean
// mirrors Get without counting a hit or miss.
func (c *Cache[V]) Age(key Fingerprint) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if !ok || c.now().After(e.expiresAt) {
		return 0, false
	}
	return c.now().Sub(e.computedAt), true
}

// Set stores value under key. A non-positive ttl falls back to the
// default. The least recently used entry is evicted when full.
func (c *Cache[V]) Set(key Fingerprint, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.cache[key]; ok {
		e.value = value
		e.computedAt = now
		e.expiresAt = now.Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.cache) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeEntry(oldest.Value.(*entry[V]))
	}

	e := &entry[V]{
		key:        key,
		value:      value,
		computedAt: now,
		expiresAt:  now.Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.cache[key] = e
}

// Invalidate removes key, reporting whether it was present.
func (c *Cache[V]) Invalidate(key Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache[key]
	if ok {
		c.removeEntry(e)
	}
	return ok
}

// InvalidatePatient removes every entry whose fingerprint mentions
// patientID and returns the count. Called when fresh session data lands
// for a patient.
func (c *Cache[V]) InvalidatePatient(patientID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []*entry[V]
	for key, e := range c.cache {
		if key.Mentions(patientID) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		c.removeEntry(e)
	}
	return len(stale)
}

// Clear empties the cache and returns the number of entries dropped.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.cache)
	c.cache = make(map[Fingerprint]*entry[V])
	c.order.Init()
	return n
}

// CleanupExpired removes all expired entries and returns the count.
func (c *Cache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []*entry[V]
	for _, e := range c.cache {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeEntry(e)
	}
	return len(expired)
}

// Stats returns a snapshot of size, capacity and hit rate.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:     len(c.cache),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// removeEntry must be called with the lock held.
func (c *Cache[V]) removeEntry(e *entry[V]) {
	delete(c.cache, e.key)
	c.order.Remove(e.element)
}
