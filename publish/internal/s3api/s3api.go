// Package s3api defines narrow interfaces over the AWS clients used by the
// publish engine to enable testing and mocking.
package s3api

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API defines the S3 operations used by the remote store.
type S3API interface {
	// ListObjectsV2 lists objects in an S3 bucket
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)

	// PutObject uploads an object to S3
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)

	// DeleteObject deletes an object from S3
	DeleteObject(
		ctx context.Context,
		params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

// CloudFrontAPI defines the CloudFront operations used by the invalidator.
type CloudFrontAPI interface {
	CreateInvalidation(
		ctx context.Context,
		params *cloudfront.CreateInvalidationInput,
		optFns ...func(*cloudfront.Options),
	) (*cloudfront.CreateInvalidationOutput, error)
}

// Ensure the SDK clients satisfy the interfaces.
var (
	_ S3API         = (*s3.Client)(nil)
	_ CloudFrontAPI = (*cloudfront.Client)(nil)
)

// LoadConfig loads the default AWS configuration for region. When provider
// is non-nil it replaces the default credential chain.
func LoadConfig(ctx context.Context, region string, provider aws.CredentialsProvider) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	if provider != nil {
		opts = append(opts, config.WithCredentialsProvider(provider))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}
