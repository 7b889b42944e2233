package cache

import "time"

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	Policy      string  `json:"policy"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
	// MemoryUsageBytes is estimated from the encoded size of the cached values.
	MemoryUsageBytes int64 `json:"memory_usage_bytes"`
}

// EntryInfo describes an entry without its value.
type EntryInfo struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
	SizeBytes    int       `json:"size_bytes"`
	Expired      bool      `json:"expired"`
}

// SweepResult reports what OptimizeOrSweep removed.
type SweepResult struct {
	SizeBefore     int `json:"size_before"`
	ExpiredRemoved int `json:"expired_removed"`
	Evicted        int `json:"evicted"`
	SizeAfter      int `json:"size_after"`
}

// Stats returns the cache counters.
func (c *EvictionCache[V]) Stats() Stats {
	c.locker.Lock()
	defer c.locker.Unlock()
	s := Stats{
		Size:        len(c.lookup),
		MaxSize:     c.config.MaxSize,
		Policy:      c.config.Policy.String(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	for _, e := range c.lookup {
		s.MemoryUsageBytes += int64(e.SizeBytes)
	}
	return s
}

// Entries lists the entries, most recent first.
func (c *EvictionCache[V]) Entries() []EntryInfo {
	c.locker.Lock()
	defer c.locker.Unlock()
	now := c.now()
	r := make([]EntryInfo, 0, len(c.lookup))
	c.order.fromHead(func(n *node[string]) bool {
		e := c.lookup[n.data]
		r = append(r, EntryInfo{
			Key:          e.Key,
			CreatedAt:    e.CreatedAt,
			LastAccessed: e.LastAccessed,
			AccessCount:  e.AccessCount,
			SizeBytes:    e.SizeBytes,
			Expired:      c.expired(e, now),
		})
		return true
	})
	return r
}
