package aws_s3

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sharedcode/storekit"
)

// BucketAPI is the part of *s3.Client used to check and create buckets.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// IsNotFound reports whether err says the bucket does not exist.
func IsNotFound(err error) bool {
	var nf *types.NotFound
	var nsb *types.NoSuchBucket
	return errors.As(err, &nf) || errors.As(err, &nsb)
}

// HeadBucket checks that bucketName exists and is accessible.
func HeadBucket(ctx context.Context, api BucketAPI, bucketName string) error {
	_, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)})
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return storekit.NewError(storekit.NotFound, fmt.Errorf("bucket %s not found: %w", bucketName, err), bucketName)
	}
	return storekit.NewError(storekit.ConnectionFailure, fmt.Errorf("head bucket %s: %w", bucketName, err), bucketName)
}

// EnsureBucket creates bucketName in region unless it already exists.
func EnsureBucket(ctx context.Context, api BucketAPI, bucketName, region string) error {
	err := HeadBucket(ctx, api, bucketName)
	if err == nil || !storekit.HasCode(err, storekit.NotFound) {
		return err
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(bucketName)}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := api.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("couldn't create bucket %s in Region %s, details: %w", bucketName, region, err)
	}
	log.Info("bucket created", "bucket", bucketName, "region", region)
	return nil
}
