// Package errors provides error types and handling for publish operations.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a publish error with context about the operation that failed.
type Error struct {
	// Op is the operation that failed (e.g., "resolve", "hash", "upload")
	Op string

	// Path is the workspace-relative local path (if applicable)
	Path string

	// Key is the remote object key (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Path != "" && e.Key != "" {
		return fmt.Sprintf("publish.%s %s -> %s: %v", e.Op, e.Path, e.Key, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("publish.%s %s: %v", e.Op, e.Path, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("publish.%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("publish.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithPath adds local path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// File returns the most specific file reference carried by the error.
func (e *Error) File() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Key
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewPathError creates a new Error with local path context.
func NewPathError(op, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewObjectError creates a new Error with local path and key context.
func NewObjectError(op, path, key string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Key:  key,
		Err:  err,
	}
}

// Sentinel errors for the publish failure taxonomy.
// These can be used with errors.Is() for error checking.
var (
	// ErrResolution indicates a missing or malformed manifest
	ErrResolution = errors.New("publish: manifest resolution failed")

	// ErrThumbnailGeneration indicates a source image could not be processed
	ErrThumbnailGeneration = errors.New("publish: thumbnail generation failed")

	// ErrHashComputation indicates a reachable file could not be read
	ErrHashComputation = errors.New("publish: hash computation failed")

	// ErrRemoteList indicates the remote listing could not complete
	ErrRemoteList = errors.New("publish: remote listing failed")

	// ErrUpload indicates an upload action failed
	ErrUpload = errors.New("publish: upload failed")

	// ErrDelete indicates a delete action failed
	ErrDelete = errors.New("publish: delete failed")

	// ErrInvalidation indicates the CDN invalidation failed or timed out
	ErrInvalidation = errors.New("publish: invalidation failed")

	// ErrPlanNotFound indicates the plan id is unknown or was superseded
	ErrPlanNotFound = errors.New("publish: plan not found")

	// ErrPublishInProgress indicates another preview or execute holds the workspace
	ErrPublishInProgress = errors.New("publish: operation already in progress")

	// ErrWorkspaceLocked indicates another process holds the workspace lock
	ErrWorkspaceLocked = errors.New("publish: workspace locked")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("publish: invalid input")

	// ErrAccessDenied indicates that the store or CDN rejected the credentials
	ErrAccessDenied = errors.New("publish: access denied")

	// ErrBucketNotFound indicates that the configured bucket does not exist
	ErrBucketNotFound = errors.New("publish: bucket not found")
)

// IsResolution checks if an error is a manifest resolution failure.
func IsResolution(err error) bool {
	return errors.Is(err, ErrResolution)
}

// IsHashComputation checks if an error is a hash computation failure.
func IsHashComputation(err error) bool {
	return errors.Is(err, ErrHashComputation)
}

// IsRemoteList checks if an error is a remote listing failure.
func IsRemoteList(err error) bool {
	return errors.Is(err, ErrRemoteList)
}

// IsInvalidation checks if an error is a CDN invalidation failure.
func IsInvalidation(err error) bool {
	return errors.Is(err, ErrInvalidation)
}

// IsPlanNotFound checks if an error indicates an unknown plan.
func IsPlanNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound)
}

// IsBusy checks if an error indicates the workspace is held by another operation.
func IsBusy(err error) bool {
	return errors.Is(err, ErrPublishInProgress) || errors.Is(err, ErrWorkspaceLocked)
}

// IsInvalidInput checks if an error indicates invalid input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// FileOf extracts the offending file from an error chain, if any.
func FileOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.File()
	}
	return ""
}
