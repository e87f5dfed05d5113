// Package testutil provides test utilities for the publish engine.
// This package is internal and should only be used for testing within this module.
package testutil

import (
	"encoding/json"
	"os"
	"path"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
)

// PhotoRef mirrors a detail manifest photo entry.
type PhotoRef struct {
	Thumbnail string `json:"thumbnail"`
	Full      string `json:"full"`
	Alt       string `json:"alt"`
}

type galleryEntry struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Date  string `json:"date"`
	Cover string `json:"cover"`
}

type detailDoc struct {
	SchemaVersion int        `json:"schemaVersion"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	Date          string     `json:"date"`
	Description   string     `json:"description"`
	Photos        []PhotoRef `json:"photos"`
}

// Workspace builds gallery workspaces on a billy filesystem.
type Workspace struct {
	t         *testing.T
	FS        billy.Filesystem
	Root      string
	galleries []galleryEntry
}

// NewMemWorkspace creates an empty in-memory workspace.
func NewMemWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return &Workspace{t: t, FS: memfs.New()}
}

// NewDiskWorkspace creates an empty workspace in a temporary directory.
// Use it when modification times matter; memfs cannot change them.
func NewDiskWorkspace(t *testing.T) *Workspace {
	t.Helper()
	root := t.TempDir()
	return &Workspace{t: t, FS: osfs.New(root), Root: root}
}

// WriteFile writes raw bytes at a workspace-relative path.
func (w *Workspace) WriteFile(rel string, data []byte) *Workspace {
	w.t.Helper()
	if dir := path.Dir(rel); dir != "." {
		require.NoError(w.t, w.FS.MkdirAll(dir, 0o755))
	}
	require.NoError(w.t, util.WriteFile(w.FS, rel, data, 0o644))
	return w
}

// WriteJSON marshals v to a workspace-relative path.
func (w *Workspace) WriteJSON(rel string, v any) *Workspace {
	w.t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(w.t, err)
	return w.WriteFile(rel, data)
}

// AddGallery writes a gallery directory with a detail manifest and one JPEG
// per photo full reference. Thumbnail references that differ from the full
// reference get their own JPEG.
func (w *Workspace) AddGallery(slug, cover string, photos ...PhotoRef) *Workspace {
	w.t.Helper()
	for i, p := range photos {
		if p.Full != "" {
			w.WriteFile(path.Join(slug, p.Full), JPEGBytes(w.t, 1600, 1200, uint8(i*40)))
		}
		if p.Thumbnail != "" && p.Thumbnail != p.Full {
			w.WriteFile(path.Join(slug, p.Thumbnail), JPEGBytes(w.t, 400, 300, uint8(i*40+1)))
		}
	}
	w.WriteJSON(path.Join(slug, "gallery-details.json"), detailDoc{
		SchemaVersion: 1,
		Name:          slug,
		Slug:          slug,
		Date:          "2024-01-01",
		Photos:        photos,
	})
	w.galleries = append(w.galleries, galleryEntry{Name: slug, Slug: slug, Date: "2024-01-01", Cover: cover})
	return w.writeRoot()
}

func (w *Workspace) writeRoot() *Workspace {
	w.t.Helper()
	return w.WriteJSON("galleries.json", map[string]any{
		"schemaVersion": 1,
		"galleries":     w.galleries,
	})
}

// Remove deletes a workspace-relative file.
func (w *Workspace) Remove(rel string) *Workspace {
	w.t.Helper()
	require.NoError(w.t, w.FS.Remove(rel))
	return w
}

// Touch sets the modification time of a file on a disk workspace.
func (w *Workspace) Touch(rel string, mtime time.Time) *Workspace {
	w.t.Helper()
	require.NotEmpty(w.t, w.Root, "Touch requires a disk workspace")
	require.NoError(w.t, os.Chtimes(w.FS.Join(w.Root, rel), mtime, mtime))
	return w
}

// ModTime returns the modification time of a workspace-relative file.
func (w *Workspace) ModTime(rel string) time.Time {
	w.t.Helper()
	info, err := w.FS.Stat(rel)
	require.NoError(w.t, err)
	return info.ModTime()
}

// SunsetWorkspace builds the canonical single gallery workspace: gallery
// "sunset" with two photos whose thumbnail and full references point at the
// same files, and the first photo as cover.
func SunsetWorkspace(w *Workspace) *Workspace {
	return w.AddGallery("sunset", "sunset/01.jpg",
		PhotoRef{Thumbnail: "01.jpg", Full: "01.jpg", Alt: "first"},
		PhotoRef{Thumbnail: "02.jpg", Full: "02.jpg", Alt: "second"},
	)
}
