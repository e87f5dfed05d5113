//go:build integration

package testutil

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

const localStackRegion = "us-east-1"

// LocalStack is a running LocalStack container serving S3.
type LocalStack struct {
	container *localstack.LocalStackContainer
	Endpoint  string
	Client    *s3.Client
}

// StartLocalStack starts LocalStack and registers its termination with t.
func StartLocalStack(t *testing.T) *LocalStack {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx,
		"localstack/localstack:latest",
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3"}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate LocalStack container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4566")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(localStackRegion),
		config.WithCredentialsProvider(LocalStackCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	return &LocalStack{
		container: container,
		Endpoint:  endpoint,
		Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(endpoint)
		}),
	}
}

// LocalStackCredentials returns the fixed credentials LocalStack accepts.
func LocalStackCredentials() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider("test", "test", "")
}

// StoreParams returns store parameters addressing bucket on LocalStack.
func (l *LocalStack) StoreParams(bucket, prefix string) pubtypes.StoreParams {
	return pubtypes.StoreParams{
		Backend:        "s3",
		Bucket:         bucket,
		Region:         localStackRegion,
		Prefix:         prefix,
		Endpoint:       l.Endpoint,
		ForcePathStyle: true,
	}
}

// CreateBucket creates bucket and removes it, with its objects, when t ends.
func (l *LocalStack) CreateBucket(t *testing.T, bucket string) {
	t.Helper()
	ctx := context.Background()
	if _, err := l.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}
	t.Cleanup(func() {
		if err := l.emptyBucket(ctx, bucket); err != nil {
			t.Logf("failed to empty bucket: %v", err)
			return
		}
		if _, err := l.Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
			t.Logf("failed to delete bucket: %v", err)
		}
	})
}

// PutObject writes an object directly, bypassing the engine.
func (l *LocalStack) PutObject(t *testing.T, bucket, key string, body []byte) {
	t.Helper()
	_, err := l.Client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("failed to put %s: %v", key, err)
	}
}

// Keys lists every key in bucket.
func (l *LocalStack) Keys(t *testing.T, bucket string) []string {
	t.Helper()
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(l.Client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			t.Fatalf("failed to list %s: %v", bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys
}

func (l *LocalStack) emptyBucket(ctx context.Context, bucket string) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	for {
		out, err := l.Client.ListObjectsV2(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		if len(out.Contents) == 0 {
			return nil
		}

		objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := l.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects},
		}); err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}

		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}
