// Package manifest resolves the set of files reachable from a workspace's
// root manifest.
//
// Resolution is a pure traversal over a parsed snapshot of the manifests:
// the root manifest lists galleries, each gallery directory holds a detail
// manifest, and the detail manifest lists photo thumbnails and full images.
// Nothing outside that closure (plus the configured static assets) is ever
// reported as reachable.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/validation"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// Resolver walks a workspace's manifests.
type Resolver struct {
	fs           billy.Filesystem
	prefix       string
	staticAssets []string
	logger       *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStaticAssets sets the workspace-relative files published alongside
// the galleries.
func WithStaticAssets(paths []string) Option {
	return func(r *Resolver) {
		r.staticAssets = append([]string(nil), paths...)
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver rooted at fs. Remote keys are formed by
// prepending prefix to each workspace-relative path.
func NewResolver(fs billy.Filesystem, prefix string, opts ...Option) *Resolver {
	r := &Resolver{
		fs:     fs,
		prefix: prefix,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the output of a resolution.
type Result struct {
	Graph    *Graph
	Files    []pubtypes.ReachableFile
	Warnings []pubtypes.Warning
}

// Resolve parses every manifest and returns the ordered reachable set.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	graph, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}

	c := &collector{
		fs:     r.fs,
		prefix: r.prefix,
		seen:   make(map[seenKey]struct{}),
	}

	c.add(pubtypes.KindManifest, RootManifestName, "")

	for _, g := range graph.Galleries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slug := g.Summary.Slug

		if g.Summary.Cover != "" {
			if err := c.addRef(pubtypes.KindCover, "", g.Summary.Cover, slug); err != nil {
				return nil, err
			}
		}

		c.add(pubtypes.KindManifest, path.Join(slug, DetailManifestName), slug)

		for _, photo := range g.Detail.Photos {
			if photo.Thumbnail != "" {
				if err := c.addRef(pubtypes.KindThumbnail, slug, photo.Thumbnail, slug); err != nil {
					return nil, err
				}
			}
			if photo.Full != "" {
				if err := c.addRef(pubtypes.KindFull, slug, photo.Full, slug); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, asset := range r.staticAssets {
		if err := c.addRef(pubtypes.KindStaticAsset, "", asset, ""); err != nil {
			return nil, err
		}
	}

	for _, w := range c.warnings {
		r.logger.Warn("referenced file missing", "path", w.Path, "reason", w.Message)
	}
	r.logger.Debug("manifests resolved",
		"galleries", len(graph.Galleries),
		"files", len(c.files),
		"warnings", len(c.warnings))

	return &Result{
		Graph:    graph,
		Files:    c.files,
		Warnings: c.warnings,
	}, nil
}

// Load parses the root manifest and every referenced detail manifest.
func (r *Resolver) Load(ctx context.Context) (*Graph, error) {
	data, err := util.ReadFile(r.fs, RootManifestName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewPathError("resolve", RootManifestName, errors.ErrResolution).
				WithMessage("root manifest not found")
		}
		return nil, errors.NewPathError("resolve", RootManifestName,
			fmt.Errorf("%w: %w", errors.ErrResolution, err))
	}

	graph := &Graph{}
	if err := json.Unmarshal(data, &graph.Root); err != nil {
		return nil, errors.NewPathError("resolve", RootManifestName, errors.ErrResolution).
			WithMessage(fmt.Sprintf("parse root manifest: %v", err))
	}

	slugs := make(map[string]struct{}, len(graph.Root.Galleries))
	for i, summary := range graph.Root.Galleries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := validation.ValidateSlug(summary.Slug); err != nil {
			return nil, errors.NewPathError("resolve", RootManifestName, errors.ErrResolution).
				WithMessage(fmt.Sprintf("gallery %d (%q): %v", i, summary.Name, err))
		}
		if _, dup := slugs[summary.Slug]; dup {
			return nil, errors.NewPathError("resolve", RootManifestName, errors.ErrResolution).
				WithMessage(fmt.Sprintf("duplicate gallery slug %q", summary.Slug))
		}
		slugs[summary.Slug] = struct{}{}

		detail, err := r.loadDetail(summary.Slug)
		if err != nil {
			return nil, err
		}
		graph.Galleries = append(graph.Galleries, Gallery{Summary: summary, Detail: detail})
	}

	return graph, nil
}

func (r *Resolver) loadDetail(slug string) (*DetailManifest, error) {
	detailPath := path.Join(slug, DetailManifestName)

	info, err := r.fs.Stat(slug)
	if err != nil || !info.IsDir() {
		return nil, errors.NewPathError("resolve", slug, errors.ErrResolution).
			WithMessage("gallery directory not found")
	}

	data, err := util.ReadFile(r.fs, detailPath)
	if err != nil {
		return nil, errors.NewPathError("resolve", detailPath, errors.ErrResolution).
			WithMessage(fmt.Sprintf("read detail manifest: %v", err))
	}

	var detail DetailManifest
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, errors.NewPathError("resolve", detailPath, errors.ErrResolution).
			WithMessage(fmt.Sprintf("parse detail manifest: %v", err))
	}
	return &detail, nil
}

type seenKey struct {
	kind pubtypes.FileKind
	path string
}

// collector accumulates reachable files in traversal order.
type collector struct {
	fs       billy.Filesystem
	prefix   string
	seen     map[seenKey]struct{}
	files    []pubtypes.ReachableFile
	warnings []pubtypes.Warning
}

func (c *collector) add(kind pubtypes.FileKind, rel, slug string) {
	k := seenKey{kind: kind, path: rel}
	if _, ok := c.seen[k]; ok {
		return
	}
	c.seen[k] = struct{}{}
	c.files = append(c.files, pubtypes.ReachableFile{
		LocalPath: rel,
		RemoteKey: c.prefix + rel,
		Kind:      kind,
		Slug:      slug,
	})
}

// addRef resolves ref against base and records it if present on disk.
// A missing or hidden file is a warning; a malformed reference is fatal.
func (c *collector) addRef(kind pubtypes.FileKind, base, ref, slug string) error {
	rel, err := validation.CleanRelativePath(base, ref)
	if err != nil {
		owner := RootManifestName
		if kind != pubtypes.KindCover && kind != pubtypes.KindStaticAsset {
			owner = path.Join(slug, DetailManifestName)
		}
		return errors.NewPathError("resolve", owner, errors.ErrResolution).
			WithMessage(fmt.Sprintf("invalid %s reference %q: %v", kind, ref, err))
	}

	if validation.IsHidden(rel) {
		c.warnings = append(c.warnings, pubtypes.Warning{
			Kind:    pubtypes.WarningMissingAsset,
			Path:    rel,
			Message: fmt.Sprintf("%s reference points at a hidden path", kind),
		})
		return nil
	}

	info, err := c.fs.Stat(rel)
	switch {
	case err != nil:
		c.warnings = append(c.warnings, pubtypes.Warning{
			Kind:    pubtypes.WarningMissingAsset,
			Path:    rel,
			Message: fmt.Sprintf("%s file not found", kind),
		})
		return nil
	case info.IsDir():
		c.warnings = append(c.warnings, pubtypes.Warning{
			Kind:    pubtypes.WarningMissingAsset,
			Path:    rel,
			Message: fmt.Sprintf("%s reference is a directory", kind),
		})
		return nil
	}

	c.add(kind, rel, slug)
	return nil
}
