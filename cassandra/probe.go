package cassandra

import (
	"context"
	"fmt"

	"github.com/sharedcode/storekit/health"
)

// VersionQuerier is the part of Connection the health probe uses.
type VersionQuerier interface {
	ReleaseVersion(ctx context.Context) (string, error)
}

// Probe returns a health probe that queries the cluster's release version.
func Probe(q VersionQuerier) health.Probe {
	return func(ctx context.Context) (health.Result, error) {
		v, err := q.ReleaseVersion(ctx)
		if err != nil {
			return health.Result{Message: fmt.Sprintf("cassandra query failed: %v", err)}, err
		}
		return health.Result{
			Status:  health.Healthy,
			Message: "cassandra reachable",
			Details: map[string]any{"release_version": v},
		}, nil
	}
}
