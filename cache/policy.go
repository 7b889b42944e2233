package cache

import (
	"fmt"
	"strings"
)

// Policy selects which entry Insert evicts when the cache is full.
type Policy int

const (
	// LRU evicts the least recently used entry.
	LRU Policy = iota
	// LFU evicts the entry with the lowest access count, the earliest inserted on ties.
	LFU
	// TTL evicts the entry with the oldest creation time regardless of access pattern.
	TTL
)

func (p Policy) String() string {
	switch p {
	case LRU:
		return "lru"
	case LFU:
		return "lfu"
	case TTL:
		return "ttl"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses "lru", "lfu" or "ttl" (any case).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lru":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "ttl":
		return TTL, nil
	}
	return LRU, fmt.Errorf("unknown eviction policy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so configs can spell the policy out.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
