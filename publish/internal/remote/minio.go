package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"

	"github.com/cruskit/afterglow-manager/publish/errors"
)

// MinioAPI is the subset of *minio.Client used by MinioStore.
type MinioAPI interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(
		ctx context.Context,
		bucketName, objectName string,
		reader io.Reader,
		objectSize int64,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

var _ MinioAPI = (*minio.Client)(nil)

// MinioStore stores objects through the MinIO client.
type MinioStore struct {
	client MinioAPI
	bucket string
	logger *slog.Logger
}

// NewMinioStore creates a store over a MinIO client.
func NewMinioStore(client MinioAPI, bucket string, logger *slog.Logger) *MinioStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MinioStore{client: client, bucket: bucket, logger: logger}
}

// List implements Store.
func (m *MinioStore) List(ctx context.Context, prefix string) ([]Object, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []Object
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, errors.NewError("list", translateMinioError(info.Err)).WithKey(prefix)
		}
		objects = append(objects, Object{Key: info.Key, ETag: info.ETag, Size: info.Size})
	}

	m.logger.Debug("listed remote objects",
		"bucket", m.bucket,
		"prefix", prefix,
		"objects", len(objects))
	return objects, nil
}

// Probe implements Prober by reading the first listed object only.
func (m *MinioStore) Probe(ctx context.Context, prefix string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   1,
	}) {
		if info.Err != nil {
			return errors.NewError("probe", translateMinioError(info.Err)).WithKey(prefix)
		}
		break
	}
	return nil
}

// Put implements Store. The client computes and sends Content-MD5 itself.
func (m *MinioStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:    opts.ContentType,
		SendContentMd5: opts.MD5 != "",
	})
	if err != nil {
		return errors.NewError("put", translateMinioError(err)).WithKey(key)
	}
	return nil
}

// Delete implements Store.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.NewError("delete", translateMinioError(err)).WithKey(key)
	}
	return nil
}

// translateMinioError maps MinIO error responses onto package sentinels.
func translateMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s: %w", errors.ErrAccessDenied, resp.Message, err)
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", errors.ErrBucketNotFound, err)
	}
	return err
}
