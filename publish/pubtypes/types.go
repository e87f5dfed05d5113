// Package pubtypes provides shared type definitions for the publish engine.
package pubtypes

import (
	"time"
)

// FileKind classifies why a file is part of the published tree.
type FileKind string

// Reachable file kinds
const (
	// KindManifest is the root manifest or a gallery detail manifest
	KindManifest FileKind = "manifest"

	// KindCover is a gallery cover image referenced from the root manifest
	KindCover FileKind = "cover"

	// KindThumbnail is a photo thumbnail referenced from a detail manifest
	KindThumbnail FileKind = "thumbnail"

	// KindFull is a full-size photo referenced from a detail manifest
	KindFull FileKind = "full"

	// KindStaticAsset is a file from the configured static asset bundle
	KindStaticAsset FileKind = "staticAsset"
)

// ReachableFile is a local file that must exist remotely after a publish.
type ReachableFile struct {
	// LocalPath is the workspace-relative, slash separated path
	LocalPath string `json:"localPath"`

	// RemoteKey is the object key including the configured prefix
	RemoteKey string `json:"remoteKey"`

	// Kind records which reference made the file reachable
	Kind FileKind `json:"kind"`

	// Slug is the owning gallery slug, empty for root level files
	Slug string `json:"slug,omitempty"`
}

// ActionKind identifies a remote mutation or phase.
type ActionKind string

// Action kinds
const (
	ActionUpload     ActionKind = "upload"
	ActionDelete     ActionKind = "delete"
	ActionInvalidate ActionKind = "invalidate"
)

// SyncAction is a single step of a publish plan.
type SyncAction struct {
	Kind        ActionKind `json:"kind"`
	LocalPath   string     `json:"localPath,omitempty"`
	RemoteKey   string     `json:"remoteKey"`
	SizeBytes   int64      `json:"sizeBytes,omitempty"`
	ContentType string     `json:"contentType,omitempty"`

	// MD5 is the hex digest computed at preview time
	MD5 string `json:"md5,omitempty"`
}

// WarningKind classifies non-fatal conditions collected during preview.
type WarningKind string

// Warning kinds
const (
	WarningMissingAsset        WarningKind = "missingAsset"
	WarningThumbnailGeneration WarningKind = "thumbnailGeneration"
)

// Warning is an informational message surfaced alongside a plan.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Path    string      `json:"path"`
	Message string      `json:"message"`
}

// StoreParams identifies the remote object store and CDN for a publish.
type StoreParams struct {
	// Backend selects the store implementation ("s3" or "minio")
	Backend string `json:"backend,omitempty"`

	// Bucket is the bucket name or an S3 bucket ARN
	Bucket string `json:"bucket"`

	Region string `json:"region"`

	// Prefix scopes every read, write and delete; always ends with "/"
	Prefix string `json:"prefix"`

	// DistributionID is a bare CloudFront id or a distribution ARN
	DistributionID string `json:"distributionId,omitempty"`

	// Endpoint overrides the service endpoint for S3-compatible stores
	Endpoint string `json:"endpoint,omitempty"`

	ForcePathStyle bool `json:"forcePathStyle,omitempty"`
}

// Plan is an immutable snapshot of the actions needed to bring the remote
// prefix in line with the workspace.
type Plan struct {
	PlanID         string       `json:"planId"`
	WorkspaceRoot  string       `json:"workspaceRoot"`
	Store          StoreParams  `json:"store"`
	ToUpload       []SyncAction `json:"toUpload"`
	ToDelete       []string     `json:"toDelete"`
	UnchangedCount int          `json:"unchanged"`
	TotalFiles     int          `json:"totalFiles"`
	CreatedAt      time.Time    `json:"createdAt"`
	Warnings       []Warning    `json:"warnings,omitempty"`
}

// TotalActions returns the number of remote mutations the plan performs.
func (p *Plan) TotalActions() int {
	return len(p.ToUpload) + len(p.ToDelete)
}

// IsEmpty reports whether executing the plan would change nothing.
func (p *Plan) IsEmpty() bool {
	return p.TotalActions() == 0
}

// ProgressEvent carries the full progress state of an execution.
type ProgressEvent struct {
	Current int        `json:"current"`
	Total   int        `json:"total"`
	File    string     `json:"file"`
	Action  ActionKind `json:"action"`
}

// ThumbnailProgress is reported once per derived artifact during preview.
type ThumbnailProgress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	Filename string `json:"filename"`
}

// EventKind identifies an execution event.
type EventKind string

// Event kinds. Every kind except EventProgress is terminal.
const (
	EventProgress  EventKind = "progress"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Summary counts the actions applied by an execution.
type Summary struct {
	Uploaded  int `json:"uploaded"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Event is a single message on an execution's event stream.
type Event struct {
	Kind     EventKind      `json:"kind"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Summary  Summary        `json:"summary"`

	// Message and File describe the failure of an EventError
	Message string `json:"message,omitempty"`
	File    string `json:"file,omitempty"`
	Err     error  `json:"-"`

	// SyncCompleted is set on an EventError raised after every file action
	// was applied, i.e. when only the cache invalidation failed
	SyncCompleted bool `json:"syncCompleted,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Kind != EventProgress
}
