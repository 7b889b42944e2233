// Package cassandra opens Cassandra sessions for a backend and exposes their health probe.
package cassandra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/sharedcode/storekit"
)

// Config contains configuration for connecting to a Cassandra cluster.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string `json:"cluster_hosts" yaml:"cluster_hosts"`
	// Keyspace is created when missing and used as the session keyspace.
	Keyspace string `json:"keyspace" yaml:"keyspace"`
	// Consistency is the default consistency level name, e.g. "LOCAL_QUORUM".
	Consistency string `json:"consistency" yaml:"consistency"`
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration `json:"connection_timeout" yaml:"connection_timeout"`
	Username          string        `json:"username" yaml:"username"`
	Password          string        `json:"-" yaml:"password"`
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string `json:"replication_clause" yaml:"replication_clause"`
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

func (config *Config) applyDefaults() {
	if config.Keyspace == "" {
		config.Keyspace = "storekit"
	}
	if config.Consistency == "" {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		config.Consistency = gocql.LocalQuorum.String()
	}
	if config.ReplicationClause == "" {
		// Specify an appropriate replication feature.
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
}

// OpenConnection opens a session, creating the keyspace if it does not exist.
func OpenConnection(config Config) (*Connection, error) {
	if len(config.ClusterHosts) == 0 {
		return nil, storekit.NewError(storekit.ConfigurationFailure, fmt.Errorf("cassandra cluster_hosts is empty"), nil)
	}
	config.applyDefaults()
	consistency, err := gocql.ParseConsistencyWrapper(strings.ToUpper(config.Consistency))
	if err != nil {
		return nil, storekit.NewError(storekit.ConfigurationFailure, err, config.Consistency)
	}

	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("cassandra connect %v: %w", config.ClusterHosts, err), nil)
	}
	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		s.Close()
		return nil, err
	}
	return &Connection{
		Session: s,
		Config:  config,
	}, nil
}

// ReleaseVersion queries the coordinator's Cassandra version.
func (c *Connection) ReleaseVersion(ctx context.Context) (string, error) {
	if c == nil || c.Session == nil || c.Session.Closed() {
		return "", storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("cassandra session is closed"), nil)
	}
	var v string
	if err := c.Session.Query("SELECT release_version FROM system.local").WithContext(ctx).Scan(&v); err != nil {
		return "", storekit.NewError(storekit.ConnectionFailure, err, nil)
	}
	return v, nil
}

// Ping reports whether the cluster answers a trivial query.
func (c *Connection) Ping(ctx context.Context) error {
	_, err := c.ReleaseVersion(ctx)
	return err
}

// Close the session.
func (c *Connection) Close() {
	if c == nil || c.Session == nil {
		return
	}
	c.Session.Close()
	c.Session = nil
}
