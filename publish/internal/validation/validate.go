// Package validation provides centralized input validation for the publish engine.
// This includes bucket name and key prefix validation and workspace path checks.
//
// Every remote key the engine writes or deletes passes through these checks
// so nothing outside the configured prefix is ever touched.
package validation

import (
	"path"
	"strings"
	"unicode"

	"github.com/cruskit/afterglow-manager/publish/errors"
)

const (
	maxKeyLength   = 1024
	s3BucketARNTag = "arn:aws:s3:::"
)

// ValidateBucketName validates that a bucket name is DNS-compliant according to AWS S3 rules.
func ValidateBucketName(bucket string) error {
	fail := func(msg string) error {
		return errors.NewError("validateBucketName", errors.ErrInvalidInput).
			WithKey(bucket).
			WithMessage(msg)
	}

	if len(bucket) < 3 || len(bucket) > 63 {
		return fail("bucket name must be between 3 and 63 characters long")
	}
	for _, char := range bucket {
		if !isValidBucketChar(char) {
			return fail("bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}
	first, last := bucket[0], bucket[len(bucket)-1]
	if first == '-' || first == '.' || last == '-' || last == '.' {
		return fail("bucket name cannot start or end with a hyphen or dot")
	}
	if strings.Contains(bucket, "..") || strings.Contains(bucket, ".-") || strings.Contains(bucket, "-.") {
		return fail("bucket name cannot contain adjacent periods")
	}
	if isIPAddress(bucket) {
		return fail("bucket name cannot be formatted as an IP address")
	}
	return nil
}

// ExtractBucketName accepts either a bare bucket name or an S3 bucket ARN
// ("arn:aws:s3:::bucket" with an optional "/path" suffix) and returns the name.
func ExtractBucketName(input string) string {
	input = strings.TrimSpace(input)
	if rest, ok := strings.CutPrefix(input, s3BucketARNTag); ok {
		name, _, _ := strings.Cut(rest, "/")
		return name
	}
	return input
}

// NormalizePrefix validates a key prefix and returns it with leading slashes
// removed and exactly one trailing slash.
func NormalizePrefix(prefix string) (string, error) {
	p := strings.TrimLeft(strings.TrimSpace(prefix), "/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "", errors.NewError("normalizePrefix", errors.ErrInvalidInput).
			WithMessage("prefix cannot be empty; publishing to the bucket root is not supported")
	}
	if hasTraversal(p) {
		return "", errors.NewError("normalizePrefix", errors.ErrInvalidInput).
			WithKey(prefix).
			WithMessage("prefix cannot contain path traversal sequences")
	}
	if hasControlCharacters(p) {
		return "", errors.NewError("normalizePrefix", errors.ErrInvalidInput).
			WithKey(prefix).
			WithMessage("prefix cannot contain control characters")
	}
	return p + "/", nil
}

// ValidateObjectKey validates that a key is usable and lies under prefix.
func ValidateObjectKey(key, prefix string) error {
	switch {
	case key == "":
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithMessage("object key cannot be empty")
	case len(key) > maxKeyLength:
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot exceed 1024 characters")
	case hasControlCharacters(key):
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key cannot contain control characters")
	case !InScope(key, prefix):
		return errors.NewError("validateObjectKey", errors.ErrInvalidInput).
			WithKey(key).
			WithMessage("object key is outside prefix " + prefix)
	}
	return nil
}

// InScope reports whether key lies strictly under a non-empty prefix.
func InScope(key, prefix string) bool {
	return prefix != "" && len(key) > len(prefix) && strings.HasPrefix(key, prefix)
}

// CleanRelativePath converts a manifest reference into a clean, slash separated
// path relative to base. References that are absolute or escape the workspace
// root are rejected.
func CleanRelativePath(base, ref string) (string, error) {
	ref = strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/")
	if ref == "" {
		return "", errors.NewError("cleanPath", errors.ErrInvalidInput).
			WithMessage("empty path reference")
	}
	if strings.HasPrefix(ref, "/") || (len(ref) >= 2 && ref[1] == ':') {
		return "", errors.NewPathError("cleanPath", ref, errors.ErrInvalidInput).
			WithMessage("absolute paths are not allowed")
	}

	joined := path.Clean(path.Join(base, ref))
	if joined == "." || joined == ".." || strings.HasPrefix(joined, "../") {
		return "", errors.NewPathError("cleanPath", ref, errors.ErrInvalidInput).
			WithMessage("path escapes the workspace root")
	}
	return joined, nil
}

// IsHidden reports whether any segment of a slash separated path starts with
// a dot. Hidden files and the .data cache are never published by reference.
func IsHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// ValidateSlug checks that a gallery slug names a single directory.
func ValidateSlug(slug string) error {
	switch {
	case strings.TrimSpace(slug) == "":
		return errors.NewError("validateSlug", errors.ErrInvalidInput).
			WithMessage("gallery slug cannot be empty")
	case strings.ContainsAny(slug, "/\\"), slug == ".", slug == "..":
		return errors.NewError("validateSlug", errors.ErrInvalidInput).
			WithPath(slug).
			WithMessage("gallery slug must be a single directory name")
	case strings.HasPrefix(slug, "."):
		return errors.NewError("validateSlug", errors.ErrInvalidInput).
			WithPath(slug).
			WithMessage("gallery slug cannot be a hidden directory")
	}
	return nil
}

func isValidBucketChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || char == '.' || char == '-'
}

// isIPAddress checks if a string is formatted as a dotted IPv4 address
func isIPAddress(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return false
		}
		for _, char := range part {
			if char < '0' || char > '9' {
				return false
			}
		}
	}
	return true
}

func hasTraversal(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return true
		}
	}
	return false
}

func hasControlCharacters(s string) bool {
	for _, char := range s {
		if unicode.IsControl(char) {
			return true
		}
	}
	return false
}
