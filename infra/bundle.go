package infra

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/aws_s3"
	"github.com/sharedcode/storekit/cache"
	"github.com/sharedcode/storekit/cassandra"
	"github.com/sharedcode/storekit/encoding"
	"github.com/sharedcode/storekit/errhandler"
	"github.com/sharedcode/storekit/health"
	"github.com/sharedcode/storekit/metrics"
	"github.com/sharedcode/storekit/redis"
	"github.com/sharedcode/storekit/transaction"
)

// Health component names of the optional connections and the artifact cache.
const (
	RedisComponent         = "redis"
	CassandraComponent     = "cassandra"
	S3Component            = "s3"
	ArtifactCacheComponent = "artifact_cache"
)

// Bundle is the explicit context object a backend receives: one instance of each
// component, wired together. Metrics is the recorder of Errors and Transactions.
type Bundle struct {
	Config        Config
	Metrics       *metrics.Collector
	Errors        *errhandler.Handler
	Transactions  *transaction.Manager
	Health        *health.Checker
	ArtifactCache *cache.EvictionCache[any]

	Redis     *redis.Connection
	Cassandra *cassandra.Connection

	locker  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	closers []func()
}

// New builds the components from config and opens the configured connections, each
// registered as a health component. Opening a connection retries through Errors.
func New(ctx context.Context, config Config) (*Bundle, error) {
	mc := metrics.NewCollector(config.Metrics)
	b := &Bundle{
		Config:        config,
		Metrics:       mc,
		Errors:        errhandler.New(config.Errors, mc),
		Transactions:  transaction.NewManager(config.Transactions, mc),
		Health:        health.NewChecker(config.Health),
		ArtifactCache: cache.NewEvictionCache[any](config.Cache),
	}
	b.Health.RegisterStatusCheck(ArtifactCacheComponent, b.cacheStatus)

	if err := b.openConnections(ctx); err != nil {
		b.close()
		return nil, err
	}
	return b, nil
}

func (b *Bundle) openConnections(ctx context.Context) error {
	if o := b.Config.Redis; o != nil {
		conn := redis.OpenConnection(*o)
		b.closers = append(b.closers, func() { conn.Close() })
		if err := b.Errors.Do(ctx, "redis.connect", conn.Ping); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		b.Redis = conn
		b.Health.RegisterCheck(RedisComponent, redis.Probe(conn.Client))
		log.Info("redis connected", "address", o.Address)
	}
	if c := b.Config.Cassandra; c != nil {
		conn, err := errhandler.Handle(ctx, b.Errors, "cassandra.connect", func(context.Context) (*cassandra.Connection, error) {
			return cassandra.OpenConnection(*c)
		})
		if err != nil {
			return fmt.Errorf("cassandra: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		b.Cassandra = conn
		b.Health.RegisterCheck(CassandraComponent, cassandra.Probe(conn))
		log.Info("cassandra connected", "hosts", c.ClusterHosts, "keyspace", conn.Keyspace)
	}
	if c := b.Config.S3; c != nil {
		client := aws_s3.Connect(*c)
		if c.CreateBucket {
			if err := b.Errors.Do(ctx, "s3.ensure_bucket", func(ctx context.Context) error {
				return aws_s3.EnsureBucket(ctx, client, c.Bucket, c.Region)
			}); err != nil {
				return fmt.Errorf("s3: %w", err)
			}
		}
		b.Health.RegisterCheck(S3Component, aws_s3.Probe(client, c.Bucket))
		log.Info("s3 configured", "bucket", c.Bucket, "endpoint", c.HostEndpointUrl)
	}
	return nil
}

// RegisterStorageProbes registers the connection, performance and (with capacity)
// capacity probes of a backend, classified against the bundle's thresholds.
func (b *Bundle) RegisterStorageProbes(backend string, ping func(context.Context) error, capacity health.CapacityFunc) []string {
	sp := &health.StorageProbes{
		Metrics:    b.Metrics,
		Thresholds: b.Health.Thresholds(),
		Ping:       ping,
		Capacity:   capacity,
	}
	return sp.Register(b.Health, backend)
}

// Artifact returns the artifact built from parts, building it with build only when no
// artifact with the same content hash is cached.
func (b *Bundle) Artifact(build func() (any, error), parts ...any) (any, error) {
	key, err := encoding.ContentKey(parts...)
	if err != nil {
		return nil, storekit.NewError(storekit.ValidationFailure, err, nil)
	}
	return cache.GetOrBuild(b.ArtifactCache, key, build)
}

func (b *Bundle) cacheStatus(context.Context) (health.Status, string, map[string]any) {
	s := b.ArtifactCache.Stats()
	details := map[string]any{
		"size":        s.Size,
		"max_size":    s.MaxSize,
		"hit_rate":    s.HitRate,
		"evictions":   s.Evictions,
		"expirations": s.Expirations,
	}
	u := float64(s.Size) / float64(s.MaxSize)
	return health.Healthy, fmt.Sprintf("%d/%d entries, %.1f%% utilised", s.Size, s.MaxSize, u*100), details
}

// Start launches the transaction cleanup worker, the health poll loop and the cache
// sweeper. Starting twice is a no-op.
func (b *Bundle) Start(ctx context.Context) {
	b.locker.Lock()
	defer b.locker.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.Transactions.Start(ctx)
	b.Health.Start(ctx)
	go b.sweepLoop(ctx, b.done)
	log.Info("infrastructure bundle started")
}

func (b *Bundle) sweepLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if b.Config.CacheSweepInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(b.Config.CacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ArtifactCache.OptimizeOrSweep()
		}
	}
}

// Stop stops the background loops, rolls back every Active transaction and closes the
// connections. It is safe to call more than once.
func (b *Bundle) Stop() {
	b.locker.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.locker.Unlock()

	b.Health.Stop()
	b.Transactions.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	b.close()
	log.Info("infrastructure bundle stopped")
}

func (b *Bundle) close() {
	b.locker.Lock()
	closers := b.closers
	b.closers = nil
	b.locker.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Run starts the bundle and blocks until ctx is done, then stops it.
func (b *Bundle) Run(ctx context.Context) error {
	b.Start(ctx)
	<-ctx.Done()
	b.Stop()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
