package infra

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/cache"
	"github.com/sharedcode/storekit/health"
	"github.com/sharedcode/storekit/inmemory"
	"github.com/sharedcode/storekit/transaction"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "storekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
errors:
  max_retries: 5
  initial_delay: 50ms
cache:
  max_size: 20
  ttl: 10m
  policy: lfu
health:
  check_interval: 15s
  thresholds:
    success_rate_warning: 0.8
transactions:
  max_concurrent_transactions: 7
redis:
  address: cache:6379
`), 0o644))
	t.Setenv(storekit.LogLevelEnvVar, "")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5, cfg.Errors.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Errors.InitialDelay)
	assert.Equal(t, 2.0, cfg.Errors.BackoffFactor, "omitted fields keep defaults")
	assert.Equal(t, 20, cfg.Cache.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, cache.LFU, cfg.Cache.Policy)
	assert.Equal(t, 15*time.Second, cfg.Health.CheckInterval)
	assert.Equal(t, 0.8, cfg.Health.Thresholds.SuccessRateWarning)
	assert.Equal(t, 0.95, cfg.Health.Thresholds.SuccessRateCritical)
	assert.Equal(t, 7, cfg.Transactions.MaxConcurrentTransactions)
	assert.Equal(t, 5*time.Minute, cfg.Transactions.TransactionTimeout)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "cache:6379", cfg.Redis.Address)
	assert.Nil(t, cfg.Cassandra)
	assert.Nil(t, cfg.S3)
}

func TestLoadConfig_EnvOverrideAndErrors(t *testing.T) {
	t.Setenv(storekit.LogLevelEnvVar, "WARN")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, storekit.HasCode(err, storekit.ConfigurationFailure))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cache:\n  policy: fifo\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.True(t, storekit.HasCode(err, storekit.ConfigurationFailure))

	noBucket := filepath.Join(t.TempDir(), "s3.yaml")
	require.NoError(t, os.WriteFile(noBucket, []byte("s3:\n  region: us-east-1\n"), 0o644))
	_, err = LoadConfig(noBucket)
	assert.True(t, storekit.HasCode(err, storekit.ConfigurationFailure))
}

func TestBundleEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Errors.InitialDelay = time.Millisecond
	cfg.Health.CheckInterval = 10 * time.Millisecond
	cfg.Transactions.AutoCleanupInterval = 10 * time.Millisecond
	cfg.CacheSweepInterval = 10 * time.Millisecond

	b, err := New(ctx, cfg)
	require.NoError(t, err)

	attempts := 0
	store := inmemory.New(inmemory.Options{Name: "mem", MaxItems: 100, Fault: func(op string) error {
		if op == "save" {
			attempts++
			if attempts == 1 {
				return storekit.NewError(storekit.Timeout, errors.New("slow disk"), nil)
			}
		}
		return nil
	}}, b.Errors)
	names := b.RegisterStorageProbes(store.Name(), store.Ping, store.Capacity)
	assert.Equal(t, []string{"mem.connection", "mem.performance", "mem.capacity"}, names)

	require.NoError(t, store.Save(ctx, "a", 1))
	id, err := b.Transactions.CreateTransaction(nil)
	require.NoError(t, err)
	b.Transactions.AddOperation(id, transaction.Save, inmemory.KeyValue{Key: "b", Value: 2})
	_, err = store.Apply(ctx, b.Transactions, id)
	require.NoError(t, err)

	b.ArtifactCache.Insert("graph:1", map[string]any{"nodes": 3})
	open, err := b.Transactions.CreateTransaction(nil)
	require.NoError(t, err)

	b.Start(ctx)
	require.Eventually(t, func() bool {
		_, ok := b.Health.GetComponentHealth("mem.performance")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	res := b.Health.CheckHealth(ctx)
	assert.Equal(t, health.Healthy, res[ArtifactCacheComponent].Status)
	assert.Equal(t, health.Healthy, res["mem.capacity"].Status)

	// the first save attempt timed out and was retried
	m, ok := b.Metrics.GetOperationMetrics("mem.save")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.Count)
	_, ok = b.Metrics.GetOperationMetrics(transaction.MetricExecute)
	assert.True(t, ok)

	b.Stop()
	tx, _ := b.Transactions.GetTransaction(open)
	assert.Equal(t, transaction.RolledBack, tx.State)
	b.Stop()
}

func TestRunStopsOnCancel(t *testing.T) {
	b, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestArtifactIsKeyedByContent(t *testing.T) {
	b, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	builds := 0
	build := func() (any, error) {
		builds++
		return "compiled", nil
	}
	def := map[string]any{"nodes": []string{"a", "b"}, "edges": 1}

	v, err := b.Artifact(build, "graph", def)
	require.NoError(t, err)
	assert.Equal(t, "compiled", v)
	_, err = b.Artifact(build, "graph", map[string]any{"edges": 1, "nodes": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, builds, "same content hits the cache")

	_, err = b.Artifact(build, "graph", map[string]any{"nodes": []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, uint64(1), b.ArtifactCache.Stats().Hits)

	_, err = b.Artifact(build, func() {})
	assert.True(t, storekit.HasCode(err, storekit.ValidationFailure))
}
