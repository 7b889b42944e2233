// Package cache provides a bounded, concurrency-safe eviction cache for artifacts that are
// expensive to construct (e.g. compiled execution graphs keyed by a content hash), with
// LRU, LFU and TTL eviction policies and lazy expiry.
package cache

import (
	"fmt"
	log "log/slog"
	"path"
	"sync"
	"time"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/cel"
	"github.com/sharedcode/storekit/encoding"
)

// Config controls capacity, expiry and eviction.
type Config struct {
	// MaxSize is the hard limit of live entries.
	MaxSize int `json:"max_size" yaml:"max_size"`
	// TTL is the maximum entry age. Zero disables expiry.
	TTL    time.Duration `json:"ttl" yaml:"ttl"`
	Policy Policy        `json:"policy" yaml:"policy"`
}

// DefaultConfig returns a 100 entry LRU cache with a one hour TTL.
func DefaultConfig() Config {
	return Config{
		MaxSize: 100,
		TTL:     time.Hour,
		Policy:  LRU,
	}
}

// Entry is one cached value with its bookkeeping.
type Entry[V any] struct {
	Value        V
	Key          string
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	SizeBytes    int
}

type cacheEntry[V any] struct {
	Entry[V]
	dllNode *node[string]
}

// EvictionCache is safe for concurrent use. Every operation takes the one cache lock.
type EvictionCache[V any] struct {
	config    Config
	locker    sync.Mutex
	lookup    map[string]*cacheEntry[V]
	order     *doublyLinkedList[string]
	marshaler encoding.Marshaler
	now       func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// NewEvictionCache returns an empty cache; MaxSize below 1 takes the default.
func NewEvictionCache[V any](config Config) *EvictionCache[V] {
	if config.MaxSize < 1 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.TTL < 0 {
		config.TTL = 0
	}
	return &EvictionCache[V]{
		config:    config,
		lookup:    make(map[string]*cacheEntry[V], config.MaxSize),
		order:     newDoublyLinkedList[string](),
		marshaler: encoding.DefaultMarshaler,
		now:       time.Now,
	}
}

// Config returns the cache configuration.
func (c *EvictionCache[V]) Config() Config {
	return c.config
}

// Get returns the cached value. Absent and expired keys are misses; an expired entry is
// removed on the spot.
func (c *EvictionCache[V]) Get(key string) (V, bool) {
	var zero V
	c.locker.Lock()
	defer c.locker.Unlock()

	e, ok := c.lookup[key]
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.now()
	if c.expired(e, now) {
		c.removeLocked(key, e)
		c.expirations++
		c.misses++
		return zero, false
	}
	e.LastAccessed = now
	e.AccessCount++
	if c.config.Policy == LRU {
		c.order.moveToHead(e.dllNode)
	}
	c.hits++
	return e.Value, true
}

// Insert adds or replaces key. When the cache is full, entries are evicted per policy first
// so that the size never exceeds MaxSize once Insert returns. Replacing a key refreshes its
// value, size and creation time and keeps its access count.
func (c *EvictionCache[V]) Insert(key string, value V) {
	size := encoding.Size(c.marshaler, value)

	c.locker.Lock()
	defer c.locker.Unlock()

	now := c.now()
	if e, ok := c.lookup[key]; ok {
		e.Value = value
		e.SizeBytes = size
		e.CreatedAt = now
		e.LastAccessed = now
		c.order.moveToHead(e.dllNode)
		return
	}
	if n := len(c.lookup); n >= c.config.MaxSize {
		c.evictLocked(n - c.config.MaxSize + 1)
	}
	c.lookup[key] = &cacheEntry[V]{
		Entry: Entry[V]{
			Value:        value,
			Key:          key,
			CreatedAt:    now,
			LastAccessed: now,
			SizeBytes:    size,
		},
		dllNode: c.order.addToHead(key),
	}
}

// InvalidateByKey removes key and reports whether it was present.
func (c *EvictionCache[V]) InvalidateByKey(key string) bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	e, ok := c.lookup[key]
	if ok {
		c.removeLocked(key, e)
	}
	return ok
}

// InvalidateByPattern removes every key matching the glob (path.Match syntax: *, ?, [...]).
func (c *EvictionCache[V]) InvalidateByPattern(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, storekit.NewError(storekit.ValidationFailure, fmt.Errorf("invalid pattern %q: %w", pattern, err), nil)
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	removed := 0
	for k, e := range c.lookup {
		if ok, _ := path.Match(pattern, k); ok {
			c.removeLocked(k, e)
			removed++
		}
	}
	return removed, nil
}

// InvalidateWhere removes every entry matching the CEL predicate. The expression sees key,
// access_count, age_seconds, idle_seconds and size_bytes.
func (c *EvictionCache[V]) InvalidateWhere(expression string) (int, error) {
	p, err := cel.NewPredicate(expression)
	if err != nil {
		return 0, storekit.NewError(storekit.ValidationFailure, err, nil)
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.lookup {
		ok, err := p.Match(k, e.AccessCount, now.Sub(e.CreatedAt).Seconds(), now.Sub(e.LastAccessed).Seconds(), e.SizeBytes)
		if err != nil {
			return removed, storekit.NewError(storekit.ValidationFailure, err, k)
		}
		if ok {
			c.removeLocked(k, e)
			removed++
		}
	}
	return removed, nil
}

// Clear removes every entry. Counters are kept.
func (c *EvictionCache[V]) Clear() {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.lookup = make(map[string]*cacheEntry[V], c.config.MaxSize)
	c.order = newDoublyLinkedList[string]()
}

// OptimizeOrSweep removes every expired entry, then evicts per policy while over capacity.
func (c *EvictionCache[V]) OptimizeOrSweep() SweepResult {
	c.locker.Lock()
	defer c.locker.Unlock()

	r := SweepResult{SizeBefore: len(c.lookup)}
	now := c.now()
	for k, e := range c.lookup {
		if c.expired(e, now) {
			c.removeLocked(k, e)
			r.ExpiredRemoved++
		}
	}
	c.expirations += uint64(r.ExpiredRemoved)
	if over := len(c.lookup) - c.config.MaxSize; over > 0 {
		r.Evicted = c.evictLocked(over)
	}
	r.SizeAfter = len(c.lookup)
	if r.ExpiredRemoved > 0 || r.Evicted > 0 {
		log.Debug("cache sweep", "expired", r.ExpiredRemoved, "evicted", r.Evicted, "size", r.SizeAfter)
	}
	return r
}

// Len returns the number of stored entries, expired ones not yet swept included.
func (c *EvictionCache[V]) Len() int {
	c.locker.Lock()
	defer c.locker.Unlock()
	return len(c.lookup)
}

func (c *EvictionCache[V]) expired(e *cacheEntry[V], now time.Time) bool {
	return c.config.TTL > 0 && now.Sub(e.CreatedAt) >= c.config.TTL
}

func (c *EvictionCache[V]) removeLocked(key string, e *cacheEntry[V]) {
	c.order.delete(e.dllNode)
	e.dllNode = nil
	delete(c.lookup, key)
}

// evictLocked removes up to n entries chosen by policy and returns how many it removed.
func (c *EvictionCache[V]) evictLocked(n int) int {
	evicted := 0
	for ; evicted < n; evicted++ {
		victim := c.victimLocked()
		if victim == nil {
			break
		}
		c.removeLocked(victim.Key, victim)
		c.evictions++
		log.Debug("cache eviction", "key", victim.Key, "policy", c.config.Policy.String())
	}
	return evicted
}

// victimLocked picks the next entry to evict. The order list's tail is the least recently
// used key under LRU and the earliest inserted key otherwise.
func (c *EvictionCache[V]) victimLocked() *cacheEntry[V] {
	if c.order.isEmpty() {
		return nil
	}
	switch c.config.Policy {
	case LFU:
		var victim *cacheEntry[V]
		c.order.fromTail(func(n *node[string]) bool {
			e := c.lookup[n.data]
			if victim == nil || e.AccessCount < victim.AccessCount {
				victim = e
			}
			return true
		})
		return victim
	case TTL:
		var victim *cacheEntry[V]
		c.order.fromTail(func(n *node[string]) bool {
			e := c.lookup[n.data]
			if victim == nil || e.CreatedAt.Before(victim.CreatedAt) {
				victim = e
			}
			return true
		})
		return victim
	}
	return c.lookup[c.order.tail.data]
}

// GetOrBuild returns the cached value of key, or builds, caches and returns it on a miss.
// A build error is returned as is and nothing is cached. Concurrent misses on the same key
// may each call build; the last insert wins.
func GetOrBuild[V any](c *EvictionCache[V], key string, build func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := build()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Insert(key, v)
	return v, nil
}
