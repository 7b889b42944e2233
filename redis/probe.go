package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/storekit/health"
)

// Client is the part of *redis.Client the health probe uses.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	PoolStats() *redis.PoolStats
}

// Probe returns a health probe that pings client and reports its pool statistics.
// The component is Degraded when the pool timed out since the previous run of the probe.
func Probe(client Client) health.Probe {
	var locker sync.Mutex
	var lastTimeouts uint32
	return func(ctx context.Context) (health.Result, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return health.Result{Message: fmt.Sprintf("redis ping failed: %v", err)}, err
		}
		r := health.Result{Status: health.Healthy, Message: "redis reachable"}
		ps := client.PoolStats()
		if ps == nil {
			return r, nil
		}
		locker.Lock()
		var fresh uint32
		if ps.Timeouts > lastTimeouts {
			fresh = ps.Timeouts - lastTimeouts
		}
		lastTimeouts = ps.Timeouts
		locker.Unlock()

		r.Details = map[string]any{
			"hits":         ps.Hits,
			"misses":       ps.Misses,
			"timeouts":     ps.Timeouts,
			"new_timeouts": fresh,
			"total_conns":  ps.TotalConns,
			"idle_conns":   ps.IdleConns,
		}
		if fresh > 0 {
			r.Status = health.Degraded
			r.Message = fmt.Sprintf("redis reachable, %d pool timeouts since last check", fresh)
		}
		return r, nil
	}
}
