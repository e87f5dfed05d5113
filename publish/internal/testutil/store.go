package testutil

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cruskit/afterglow-manager/publish/internal/remote"
)

// StoredObject is an object held by MemStore.
type StoredObject struct {
	Data        []byte
	ETag        string
	ContentType string
}

// MemStore is an in-memory remote.Store. ETags are quoted MD5 digests, as
// S3 returns for single-part uploads.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]StoredObject

	// ListErr, when set, fails every List call
	ListErr error

	// BeforePut and BeforeDelete run before each mutation; a non-nil error
	// aborts it
	BeforePut    func(key string) error
	BeforeDelete func(key string) error

	// AfterPut runs after each successful upload
	AfterPut func(key string)

	Puts    []string
	Deletes []string
	Lists   int
}

var _ remote.Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string]StoredObject)}
}

// Seed stores data at key without recording a put.
func (m *MemStore) Seed(key string, data []byte) *MemStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = StoredObject{Data: data, ETag: quotedMD5(data)}
	return m
}

// SeedETag stores an object with an explicit ETag, e.g. a multipart tag.
func (m *MemStore) SeedETag(key string, data []byte, etag string) *MemStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = StoredObject{Data: data, ETag: etag}
	return m
}

// Keys returns the stored keys in sorted order.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the object stored at key.
func (m *MemStore) Get(key string) (StoredObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// List implements remote.Store.
func (m *MemStore) List(ctx context.Context, prefix string) ([]remote.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lists++
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var out []remote.Object
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, remote.Object{Key: k, ETag: obj.ETag, Size: int64(len(obj.Data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Put implements remote.Store, verifying the body against opts.MD5.
func (m *MemStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, opts remote.PutOptions) error {
	if m.BeforePut != nil {
		if err := m.BeforePut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s: got %d want %d", key, len(data), size)
	}
	sum := md5.Sum(data)
	digest := hex.EncodeToString(sum[:])
	if opts.MD5 != "" && opts.MD5 != digest {
		return fmt.Errorf("BadDigest: %s", key)
	}

	m.mu.Lock()
	m.objects[key] = StoredObject{Data: data, ETag: `"` + digest + `"`, ContentType: opts.ContentType}
	m.Puts = append(m.Puts, key)
	m.mu.Unlock()

	if m.AfterPut != nil {
		m.AfterPut(key)
	}
	return nil
}

// Delete implements remote.Store.
func (m *MemStore) Delete(ctx context.Context, key string) error {
	if m.BeforeDelete != nil {
		if err := m.BeforeDelete(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.Deletes = append(m.Deletes, key)
	return nil
}

func quotedMD5(data []byte) string {
	sum := md5.Sum(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
