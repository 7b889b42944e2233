package cassandra

import (
	"context"
	"errors"
	"testing"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/health"
)

type mockSession struct {
	version string
	err     error
}

func (m mockSession) ReleaseVersion(ctx context.Context) (string, error) {
	return m.version, m.err
}

func TestProbe(t *testing.T) {
	r, err := Probe(mockSession{version: "4.1.3"})(context.Background())
	if err != nil || r.Status != health.Healthy {
		t.Fatalf("expected healthy, got %v %v", r.Status, err)
	}
	if r.Details["release_version"] != "4.1.3" {
		t.Errorf("unexpected details %v", r.Details)
	}
	if _, err := Probe(mockSession{err: errors.New("no hosts available")})(context.Background()); err == nil {
		t.Errorf("expected error")
	}
}

func TestOpenConnectionValidatesConfig(t *testing.T) {
	if _, err := OpenConnection(Config{}); !storekit.HasCode(err, storekit.ConfigurationFailure) {
		t.Errorf("expected ConfigurationFailure, got %v", err)
	}
	if _, err := OpenConnection(Config{ClusterHosts: []string{"localhost"}, Consistency: "sorta"}); !storekit.HasCode(err, storekit.ConfigurationFailure) {
		t.Errorf("expected ConfigurationFailure for bad consistency, got %v", err)
	}
}

func TestClosedConnection(t *testing.T) {
	var c *Connection
	if err := c.Ping(context.Background()); !storekit.HasCode(err, storekit.ConnectionFailure) {
		t.Errorf("expected ConnectionFailure, got %v", err)
	}
	c.Close()
}

func TestApplyDefaults(t *testing.T) {
	c := Config{}
	c.applyDefaults()
	if c.Keyspace != "storekit" || c.Consistency != "LOCAL_QUORUM" || c.ReplicationClause == "" {
		t.Errorf("unexpected defaults %+v", c)
	}
}
