package remote

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/s3api"
)

const maxPageSize = 1000

// S3Store stores objects in an S3 bucket.
type S3Store struct {
	client s3api.S3API
	bucket string
	logger *slog.Logger
}

// NewS3Store creates a store over an S3 client.
func NewS3Store(client s3api.S3API, bucket string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &S3Store{client: client, bucket: bucket, logger: logger}
}

// List implements Store using a paginated ListObjectsV2 walk.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxPageSize),
	})

	var objects []Object
	pages := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewError("list", errors.ClassifyAWS(err)).WithKey(prefix)
		}
		pages++
		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				ETag: aws.ToString(obj.ETag),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	s.logger.Debug("listed remote objects",
		"bucket", s.bucket,
		"prefix", prefix,
		"objects", len(objects),
		"pages", pages)
	return objects, nil
}

// Probe implements Prober with a single-key listing.
func (s *S3Store) Probe(ctx context.Context, prefix string) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return errors.NewError("probe", errors.ClassifyAWS(err)).WithKey(prefix)
	}
	return nil
}

// Put implements Store with a single PutObject call carrying Content-MD5.
func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.MD5 != "" {
		raw, err := hex.DecodeString(opts.MD5)
		if err != nil {
			return errors.NewError("put", errors.ErrInvalidInput).
				WithKey(key).
				WithMessage(fmt.Sprintf("bad md5 %q", opts.MD5))
		}
		input.ContentMD5 = aws.String(base64.StdEncoding.EncodeToString(raw))
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errors.NewError("put", errors.ClassifyAWS(err)).WithKey(key)
	}
	return nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.NewError("delete", errors.ClassifyAWS(err)).WithKey(key)
	}
	return nil
}
