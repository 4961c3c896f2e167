// Package cache provides a bounded, concurrency-safe key/value map that
// evicts entries according to a pluggable Policy once it is full.
//
// The broker keeps hot state here: rate-limit counters and topic to
// subscription lookups. A Cache never exceeds its maximum size; room is
// made before an insert, never after.
//
// Example:
//
//	c, err := cache.New[string, int](cache.WithMaxSize(100))
//	if err != nil {
//	    return err
//	}
//	c.Set("a", 1)
//	v, ok := c.Get("a")
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize is the capacity used when WithMaxSize is not given.
const DefaultMaxSize = 2000

// Option configures a Cache.
type Option func(*settings) error

type settings struct {
	maxSize int
	kind    PolicyKind
}

// WithMaxSize sets the maximum number of entries. Must be > 0.
func WithMaxSize(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return fmt.Errorf("max size must be > 0, got %d", n)
		}
		s.maxSize = n
		return nil
	}
}

// WithPolicy selects a built-in eviction policy. Default is PolicyFIFO.
func WithPolicy(kind PolicyKind) Option {
	return func(s *settings) error {
		switch kind {
		case PolicyFIFO, PolicyLRU:
			s.kind = kind
			return nil
		}
		return fmt.Errorf("unknown eviction policy %q", kind)
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded map with policy-driven eviction.
// All methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]V
	policy  Policy[K]
	maxSize int
	onEvict func(K, V)

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a Cache using one of the built-in policies.
func New[K comparable, V any](opts ...Option) (*Cache[K, V], error) {
	s := settings{maxSize: DefaultMaxSize, kind: PolicyFIFO}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return nil, err
		}
	}
	return NewWithPolicy[K, V](newPolicy[K](s.kind), s.maxSize)
}

// NewWithPolicy creates a Cache driven by a caller-supplied policy.
func NewWithPolicy[K comparable, V any](policy Policy[K], maxSize int) (*Cache[K, V], error) {
	if policy == nil {
		return nil, fmt.Errorf("policy cannot be nil")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("max size must be > 0, got %d", maxSize)
	}
	return &Cache[K, V]{
		items:   make(map[K]V),
		policy:  policy,
		maxSize: maxSize,
	}, nil
}

// OnEvict registers fn to be called for every capacity eviction.
// fn runs after the cache lock is released. Not safe to call concurrently
// with other methods; set it right after construction.
func (c *Cache[K, V]) OnEvict(fn func(K, V)) {
	c.onEvict = fn
}

// Get returns the value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	if c.policy.TracksReads() {
		c.mu.Lock()
		defer c.mu.Unlock()
	} else {
		c.mu.RLock()
		defer c.mu.RUnlock()
	}

	v, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return v, false
	}
	c.hits.Add(1)
	if c.policy.TracksReads() {
		c.policy.Touched(key)
	}
	return v, true
}

// Contains reports whether key is present without affecting eviction order.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[key]
	return ok
}

// Set stores value under key. Existing keys are overwritten in place;
// a new key evicts the policy's victim first when the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	evicted := c.setLocked(key, value)
	c.mu.Unlock()
	c.notify(evicted)
}

// Update atomically replaces the value under key with fn(old, found).
// Insertion follows the same eviction rule as Set.
func (c *Cache[K, V]) Update(key K, fn func(old V, found bool) V) V {
	c.mu.Lock()
	old, found := c.items[key]
	value := fn(old, found)
	evicted := c.setLocked(key, value)
	c.mu.Unlock()
	c.notify(evicted)
	return value
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	c.policy.Removed(key)
	return true
}

// DeleteFunc removes every entry for which pred returns true and returns
// the number removed.
func (c *Cache[K, V]) DeleteFunc(pred func(K, V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.items {
		if pred(k, v) {
			delete(c.items, k)
			c.policy.Removed(k)
			removed++
		}
	}
	return removed
}

// MakeRoom evicts the policy's victim and returns its key.
// It reports false when the cache is empty.
func (c *Cache[K, V]) MakeRoom() (K, bool) {
	c.mu.Lock()
	key, value, ok := c.evictLocked()
	c.mu.Unlock()
	if ok {
		c.notify([]entry[K, V]{{key, value}})
	}
	return key, ok
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MaxSize returns the capacity.
func (c *Cache[K, V]) MaxSize() int {
	return c.maxSize
}

// Keys returns all keys, next eviction victim first.
func (c *Cache[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy.Keys()
}

// Clear removes every entry. Cleared entries are not reported as evictions.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.policy.Reset()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

func (c *Cache[K, V]) setLocked(key K, value V) []entry[K, V] {
	if _, ok := c.items[key]; ok {
		c.items[key] = value
		c.policy.Updated(key)
		return nil
	}

	var evicted []entry[K, V]
	for len(c.items) >= c.maxSize {
		k, v, ok := c.evictLocked()
		if !ok {
			break
		}
		evicted = append(evicted, entry[K, V]{k, v})
	}

	c.items[key] = value
	c.policy.Added(key)
	return evicted
}

func (c *Cache[K, V]) evictLocked() (K, V, bool) {
	key, ok := c.policy.Victim()
	if !ok {
		var v V
		return key, v, false
	}
	value := c.items[key]
	delete(c.items, key)
	c.policy.Removed(key)
	c.evictions.Add(1)
	return key, value, true
}

func (c *Cache[K, V]) notify(evicted []entry[K, V]) {
	if c.onEvict == nil {
		return
	}
	for _, e := range evicted {
		c.onEvict(e.key, e.value)
	}
}
