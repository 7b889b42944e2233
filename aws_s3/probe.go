package aws_s3

import (
	"context"
	"fmt"

	"github.com/sharedcode/storekit/health"
)

// Probe returns a health probe that checks bucketName with HeadBucket.
func Probe(api BucketAPI, bucketName string) health.Probe {
	return func(ctx context.Context) (health.Result, error) {
		if err := HeadBucket(ctx, api, bucketName); err != nil {
			return health.Result{
				Message: fmt.Sprintf("bucket %s unavailable", bucketName),
				Details: map[string]any{"bucket": bucketName},
			}, err
		}
		return health.Result{
			Status:  health.Healthy,
			Message: "bucket reachable",
			Details: map[string]any{"bucket": bucketName},
		}, nil
	}
}
