package testutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cruskit/afterglow-manager/publish/internal/s3api"
)

// MockS3Client is a mock implementation of the S3API interface for testing.
// It allows customization of each S3 operation through function fields.
type MockS3Client struct {
	ListObjectsV2Func func(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObjectFunc     func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObjectFunc  func(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ s3api.S3API = (*MockS3Client)(nil)

// ListObjectsV2 mocks the S3 ListObjectsV2 operation.
func (m *MockS3Client) ListObjectsV2(
	ctx context.Context,
	params *s3.ListObjectsV2Input,
	optFns ...func(*s3.Options),
) (*s3.ListObjectsV2Output, error) {
	if m.ListObjectsV2Func != nil {
		return m.ListObjectsV2Func(ctx, params, optFns...)
	}
	return &s3.ListObjectsV2Output{}, nil
}

// PutObject mocks the S3 PutObject operation.
func (m *MockS3Client) PutObject(
	ctx context.Context,
	params *s3.PutObjectInput,
	optFns ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	if m.PutObjectFunc != nil {
		return m.PutObjectFunc(ctx, params, optFns...)
	}
	return &s3.PutObjectOutput{}, nil
}

// DeleteObject mocks the S3 DeleteObject operation.
func (m *MockS3Client) DeleteObject(
	ctx context.Context,
	params *s3.DeleteObjectInput,
	optFns ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	if m.DeleteObjectFunc != nil {
		return m.DeleteObjectFunc(ctx, params, optFns...)
	}
	return &s3.DeleteObjectOutput{}, nil
}

// MockCloudFrontClient is a mock implementation of the CloudFrontAPI interface.
type MockCloudFrontClient struct {
	CreateInvalidationFunc func(
		context.Context,
		*cloudfront.CreateInvalidationInput,
		...func(*cloudfront.Options),
	) (*cloudfront.CreateInvalidationOutput, error)

	// Calls records every request received
	Calls []*cloudfront.CreateInvalidationInput
}

var _ s3api.CloudFrontAPI = (*MockCloudFrontClient)(nil)

// CreateInvalidation mocks the CloudFront CreateInvalidation operation.
func (m *MockCloudFrontClient) CreateInvalidation(
	ctx context.Context,
	params *cloudfront.CreateInvalidationInput,
	optFns ...func(*cloudfront.Options),
) (*cloudfront.CreateInvalidationOutput, error) {
	m.Calls = append(m.Calls, params)
	if m.CreateInvalidationFunc != nil {
		return m.CreateInvalidationFunc(ctx, params, optFns...)
	}
	return &cloudfront.CreateInvalidationOutput{}, nil
}
