// Package comparator decides whether a local file differs from its remote copy.
//
// Comparison is by content: the local MD5 digest against the remote integrity
// tag (ETag). Tags written by multipart uploads are not plain digests and are
// always treated as changed.
package comparator

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// Reason explains a comparison outcome.
type Reason string

// Comparison reasons
const (
	ReasonUnchanged Reason = "unchanged"
	ReasonNew       Reason = "new"
	ReasonChanged   Reason = "content changed"
	ReasonMultipart Reason = "multipart tag cannot be compared"
)

// LocalFile is a hashed reachable file.
type LocalFile struct {
	Path string
	Size int64
	MD5  string
}

// RemoteObject is one entry of a remote listing.
type RemoteObject struct {
	Key  string
	ETag string
	Size int64
}

// Comparator defines the interface for comparing local and remote files.
type Comparator interface {
	// HasChanged reports whether local must be uploaded. remote is nil when
	// no object exists at the key.
	HasChanged(local LocalFile, remote *RemoteObject) (bool, Reason)
}

// ETagComparator compares the local MD5 digest with the remote ETag.
type ETagComparator struct{}

// NewETagComparator creates the default comparator.
func NewETagComparator() *ETagComparator {
	return &ETagComparator{}
}

// HasChanged implements the Comparator interface.
func (c *ETagComparator) HasChanged(local LocalFile, remote *RemoteObject) (bool, Reason) {
	if remote == nil {
		return true, ReasonNew
	}

	etag := NormalizeETag(remote.ETag)
	if IsMultipartETag(etag) {
		return true, ReasonMultipart
	}
	if etag == "" || !strings.EqualFold(etag, local.MD5) {
		return true, ReasonChanged
	}
	return false, ReasonUnchanged
}

// NormalizeETag strips the quoting and weak marker that stores put around tags.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, "\"")
}

// IsMultipartETag reports whether a tag has the "<digest>-<parts>" form.
func IsMultipartETag(etag string) bool {
	return strings.Contains(etag, "-")
}

// ComputeMD5 hashes a file on fs and returns its hex digest and size.
func ComputeMD5(fs billy.Filesystem, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	return HashReader(f)
}

// HashReader returns the hex MD5 digest and length of everything read from r.
func HashReader(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
