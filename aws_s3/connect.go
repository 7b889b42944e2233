// Package aws_s3 connects to S3 compatible object storage and exposes a bucket health probe.
package aws_s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type Config struct {
	// "http://127.0.0.1:9000"
	HostEndpointUrl string `json:"host_endpoint_url" yaml:"host_endpoint_url"`
	// "us-east-1"
	Region   string `json:"region" yaml:"region"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	// Bucket is the bucket whose availability the health probe checks.
	Bucket string `json:"bucket" yaml:"bucket"`
	// CreateBucket creates Bucket on startup when it does not exist.
	CreateBucket bool `json:"create_bucket" yaml:"create_bucket"`
	// UsePathStyle is required by most S3 compatible servers (e.g. minio).
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// Connect to an S3 compatible endpoint. An empty HostEndpointUrl uses AWS's endpoint
// resolution for Region.
func Connect(config Config) *s3.Client {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		if config.HostEndpointUrl != "" {
			o.BaseEndpoint = aws.String(config.HostEndpointUrl)
		}
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		o.UsePathStyle = config.UsePathStyle
	})
	return client
}
