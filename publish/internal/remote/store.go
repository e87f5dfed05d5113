// Package remote abstracts the object store a workspace is published to.
//
// Two backends are provided: Amazon S3 (and S3-compatible endpoints reached
// through the AWS SDK) and MinIO through its native client. Both expose the
// same three operations the engine needs: a full listing under a prefix, a
// whole-object put and a single-object delete.
package remote

import (
	"context"
	"io"
)

// Backend names accepted in store parameters.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// Object is one entry of a listing.
type Object struct {
	Key  string
	ETag string
	Size int64
}

// PutOptions carries object metadata for Put.
type PutOptions struct {
	ContentType string

	// MD5 is the hex digest of the body; the store verifies it on receipt
	MD5 string
}

// Store is the remote object store used by the planner and executor.
type Store interface {
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Put uploads body as a single object at key.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts PutOptions) error

	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
}

// Prober is implemented by stores that can check access without a full listing.
type Prober interface {
	// Probe lists at most one object under prefix.
	Probe(ctx context.Context, prefix string) error
}

// Probe checks that store is reachable and readable under prefix, using the
// store's Prober when available.
func Probe(ctx context.Context, store Store, prefix string) error {
	if p, ok := store.(Prober); ok {
		return p.Probe(ctx, prefix)
	}
	_, err := store.List(ctx, prefix)
	return err
}
