// Package infra composes the error handler, metrics collector, transaction manager,
// health checker and artifact cache into the bundle a storage backend is built on.
package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/aws_s3"
	"github.com/sharedcode/storekit/cache"
	"github.com/sharedcode/storekit/cassandra"
	"github.com/sharedcode/storekit/errhandler"
	"github.com/sharedcode/storekit/health"
	"github.com/sharedcode/storekit/inmemory"
	"github.com/sharedcode/storekit/metrics"
	"github.com/sharedcode/storekit/redis"
	"github.com/sharedcode/storekit/transaction"
)

// APIConfig configures the operator REST API.
type APIConfig struct {
	Address string `json:"address" yaml:"address"`
	// OktaDomain enables bearer token verification when set, e.g. "dev-123.okta.com".
	OktaDomain string `json:"okta_domain" yaml:"okta_domain"`
	Audience   string `json:"audience" yaml:"audience"`
	ClientID   string `json:"client_id" yaml:"client_id"`
}

// Config aggregates the configuration of every component. Optional backend connections
// are opened only when their section is present.
type Config struct {
	LogLevel     string             `json:"log_level" yaml:"log_level"`
	Errors       errhandler.Config  `json:"errors" yaml:"errors"`
	Metrics      metrics.Config     `json:"metrics" yaml:"metrics"`
	Transactions transaction.Config `json:"transactions" yaml:"transactions"`
	Health       health.Config      `json:"health" yaml:"health"`
	Cache        cache.Config       `json:"cache" yaml:"cache"`
	// CacheSweepInterval runs OptimizeOrSweep on the artifact cache. Zero disables it.
	CacheSweepInterval time.Duration `json:"cache_sweep_interval" yaml:"cache_sweep_interval"`

	Store     inmemory.Options  `json:"store" yaml:"store"`
	Redis     *redis.Options    `json:"redis,omitempty" yaml:"redis"`
	Cassandra *cassandra.Config `json:"cassandra,omitempty" yaml:"cassandra"`
	S3        *aws_s3.Config    `json:"s3,omitempty" yaml:"s3"`
	API       APIConfig         `json:"api" yaml:"api"`
}

// DefaultConfig returns every component's defaults and no optional connections.
func DefaultConfig() Config {
	return Config{
		LogLevel:           "INFO",
		Errors:             errhandler.DefaultConfig(),
		Metrics:            metrics.DefaultConfig(),
		Transactions:       transaction.DefaultConfig(),
		Health:             health.DefaultConfig(),
		Cache:              cache.DefaultConfig(),
		CacheSweepInterval: time.Minute,
		Store:              inmemory.Options{Name: "inmemory", MaxItems: 10000},
		API:                APIConfig{Address: "localhost:8080"},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path returns the
// defaults. STOREKIT_LOG_LEVEL, when set, overrides log_level.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, storekit.NewError(storekit.ConfigurationFailure, fmt.Errorf("read config file: %w", err), path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, storekit.NewError(storekit.ConfigurationFailure, fmt.Errorf("parse config file: %w", err), path)
		}
	}
	if lvl := os.Getenv(storekit.LogLevelEnvVar); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can normalise.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return storekit.NewError(storekit.ConfigurationFailure, fmt.Errorf(format, args...), nil)
	}
	if c.Cache.MaxSize < 0 {
		return fail("cache.max_size must not be negative")
	}
	if c.Errors.MaxRetries < 0 {
		return fail("errors.max_retries must not be negative")
	}
	if t := c.Health.Thresholds; t.ResponseTimeCritical > 0 && t.ResponseTimeWarning > t.ResponseTimeCritical {
		return fail("health.thresholds.response_time_warning exceeds response_time_critical")
	}
	if c.S3 != nil && c.S3.Bucket == "" {
		return fail("s3.bucket is required")
	}
	if c.Cassandra != nil && len(c.Cassandra.ClusterHosts) == 0 {
		return fail("cassandra.cluster_hosts is required")
	}
	return nil
}
