// Package redis opens Redis connections for a backend and exposes their health probe.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/storekit"
)

// Redis configurable options.
type Options struct {
	// Redis server(cluster) address.
	Address string `json:"address" yaml:"address"`
	// Password required when connecting to the Redis server.
	Password string `json:"password" yaml:"password"`
	// DB to connect to.
	DB int `json:"db" yaml:"db"`
	// TLS config.
	TLSConfig *tls.Config `json:"-" yaml:"-"`
}

// DefaultOptions.
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

// Connection contains Redis client connection object and the Options used to connect.
type Connection struct {
	Client  *redis.Client
	Options Options
}

// OpenConnection creates a client for options. The client connects lazily; use Ping to
// verify the server is reachable.
func OpenConnection(options Options) *Connection {
	if options.Address == "" {
		options.Address = DefaultOptions().Address
	}
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB})
	return &Connection{
		Client:  client,
		Options: options,
	}
}

// Ping round-trips a PING. Failures are ConnectionFailure errors.
func (c *Connection) Ping(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("redis connection is closed"), nil)
	}
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("redis ping %s: %w", c.Options.Address, err), nil)
	}
	return nil
}

// Close the connection if open.
func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	c.Client = nil
	return err
}
