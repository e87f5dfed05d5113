// Package thumbnail maintains the on-disk cache of downsized images that are
// published in place of the originals referenced as covers and thumbnails.
//
// The cache is keyed by (gallery slug, file stem) and lives under
// .data/thumbnails inside the workspace. An artifact is regenerated only when
// it is missing or older than its source.
package thumbnail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-git/go-billy/v5"

	// Register decoders beyond those imaging pulls in.
	_ "golang.org/x/image/webp"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// Defaults for derived artifacts.
const (
	DefaultMaxDimension = 800
	DefaultQuality      = 85

	// CacheDir is the workspace-relative root of the derived artifact cache.
	CacheDir = ".data/thumbnails"

	derivedExt = ".jpg"
	remoteDir  = ".thumbs"
)

// Spec describes one derived artifact.
type Spec struct {
	SourcePath        string
	DerivedPath       string
	RemoteKey         string
	Slug              string
	Stem              string
	MaxDimension      int
	Quality           int
	SourceModifiedAt  time.Time
	DerivedModifiedAt time.Time // zero when the artifact does not exist
}

// Stale reports whether the artifact must be regenerated.
func (s Spec) Stale() bool {
	return s.DerivedModifiedAt.IsZero() || s.SourceModifiedAt.After(s.DerivedModifiedAt)
}

// Stage generates derived artifacts and rewrites the reachable set.
type Stage struct {
	fs           billy.Filesystem
	prefix       string
	maxDimension int
	quality      int
	progress     func(pubtypes.ThumbnailProgress)
	logger       *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithProgress registers a callback invoked once per derived artifact.
func WithProgress(fn func(pubtypes.ThumbnailProgress)) Option {
	return func(s *Stage) {
		s.progress = fn
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStage creates a thumbnail stage over the workspace filesystem.
func NewStage(fs billy.Filesystem, prefix string, opts ...Option) *Stage {
	s := &Stage{
		fs:           fs,
		prefix:       prefix,
		maxDimension: DefaultMaxDimension,
		quality:      DefaultQuality,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of a stage run.
type Result struct {
	// Files is the rewritten reachable set, deduplicated by remote key
	Files []pubtypes.ReachableFile

	Warnings []pubtypes.Warning

	// Generated lists derived paths written during this run
	Generated []string

	// Fresh lists derived paths that were already up to date
	Fresh []string
}

// Run ensures every cover and thumbnail entry has a fresh derived artifact
// and returns the reachable set with those entries pointing at the artifacts.
// Per-file failures are reported as warnings and the original file is kept.
func (s *Stage) Run(ctx context.Context, files []pubtypes.ReachableFile) (*Result, error) {
	result := &Result{}

	specs, assigned, warnings := s.plan(files)
	result.Warnings = append(result.Warnings, warnings...)

	failed := make(map[string]bool)
	for i := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec := &specs[i]

		if err := s.refresh(spec); err != nil {
			failed[spec.DerivedPath] = true
			result.Warnings = append(result.Warnings, pubtypes.Warning{
				Kind:    pubtypes.WarningThumbnailGeneration,
				Path:    spec.SourcePath,
				Message: err.Error(),
			})
			s.logger.Warn("thumbnail generation failed, publishing original",
				"source", spec.SourcePath,
				"error", err)
		} else if spec.Stale() {
			result.Generated = append(result.Generated, spec.DerivedPath)
		} else {
			result.Fresh = append(result.Fresh, spec.DerivedPath)
		}

		if s.progress != nil {
			s.progress(pubtypes.ThumbnailProgress{
				Current:  i + 1,
				Total:    len(specs),
				Filename: path.Base(spec.SourcePath),
			})
		}
	}

	seen := make(map[string]struct{}, len(files))
	for i, f := range files {
		if idx, ok := assigned[i]; ok && !failed[specs[idx].DerivedPath] {
			f.LocalPath = specs[idx].DerivedPath
			f.RemoteKey = specs[idx].RemoteKey
		}
		if _, dup := seen[f.RemoteKey]; dup {
			continue
		}
		seen[f.RemoteKey] = struct{}{}
		result.Files = append(result.Files, f)
	}

	s.logger.Debug("thumbnail stage complete",
		"artifacts", len(specs),
		"generated", len(result.Generated),
		"fresh", len(result.Fresh),
		"failed", len(failed))

	return result, nil
}

// plan builds one spec per unique derived path. assigned maps the index of
// each rewritten file to its spec.
func (s *Stage) plan(files []pubtypes.ReachableFile) ([]Spec, map[int]int, []pubtypes.Warning) {
	var (
		specs    []Spec
		warnings []pubtypes.Warning
		assigned = make(map[int]int)
		byPath   = make(map[string]int)
	)

	for i, f := range files {
		if f.Kind != pubtypes.KindCover && f.Kind != pubtypes.KindThumbnail {
			continue
		}

		// Covers are grouped by their full parent directory, which may be
		// nested below the gallery folder.
		slug := f.Slug
		if f.Kind == pubtypes.KindCover {
			if dir := path.Dir(f.LocalPath); dir != "." && dir != "/" {
				slug = dir
			}
		}
		if slug == "" {
			continue
		}

		spec := s.specFor(f.LocalPath, slug)
		if idx, ok := byPath[spec.DerivedPath]; ok {
			if specs[idx].SourcePath != f.LocalPath {
				warnings = append(warnings, pubtypes.Warning{
					Kind: pubtypes.WarningThumbnailGeneration,
					Path: f.LocalPath,
					Message: fmt.Sprintf("derived path %s already used by %s, publishing original",
						spec.DerivedPath, specs[idx].SourcePath),
				})
				continue
			}
			assigned[i] = idx
			continue
		}

		byPath[spec.DerivedPath] = len(specs)
		assigned[i] = len(specs)
		specs = append(specs, spec)
	}

	return specs, assigned, warnings
}

// specFor derives the cache and remote locations for a source image.
func (s *Stage) specFor(source, slug string) Spec {
	stem := strings.TrimSuffix(path.Base(source), path.Ext(source))
	return Spec{
		SourcePath:   source,
		DerivedPath:  path.Join(CacheDir, slug, stem+derivedExt),
		RemoteKey:    s.prefix + path.Join(slug, remoteDir, stem+derivedExt),
		Slug:         slug,
		Stem:         stem,
		MaxDimension: s.maxDimension,
		Quality:      s.quality,
	}
}

// refresh fills in modification times and regenerates the artifact when stale.
func (s *Stage) refresh(spec *Spec) error {
	srcInfo, err := s.fs.Stat(spec.SourcePath)
	if err != nil {
		return errors.NewPathError("thumbnail", spec.SourcePath,
			fmt.Errorf("%w: %w", errors.ErrThumbnailGeneration, err))
	}
	spec.SourceModifiedAt = srcInfo.ModTime()

	if dstInfo, err := s.fs.Stat(spec.DerivedPath); err == nil && !dstInfo.IsDir() {
		spec.DerivedModifiedAt = dstInfo.ModTime()
	}

	if !spec.Stale() {
		return nil
	}
	return s.generate(*spec)
}

// generate decodes, downsizes and atomically writes one artifact.
func (s *Stage) generate(spec Spec) error {
	fail := func(err error) error {
		return errors.NewPathError("thumbnail", spec.SourcePath,
			fmt.Errorf("%w: %w", errors.ErrThumbnailGeneration, err))
	}

	src, err := s.fs.Open(spec.SourcePath)
	if err != nil {
		return fail(err)
	}
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	_ = src.Close()
	if err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}

	// Fit never upscales; smaller images are re-encoded as is.
	resized := imaging.Fit(img, spec.MaxDimension, spec.MaxDimension, imaging.Lanczos)

	if err := s.fs.MkdirAll(path.Dir(spec.DerivedPath), 0o755); err != nil {
		return fail(err)
	}

	tmp := spec.DerivedPath + ".tmp"
	out, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fail(err)
	}
	if err := imaging.Encode(out, resized, imaging.JPEG, imaging.JPEGQuality(spec.Quality)); err != nil {
		_ = out.Close()
		_ = s.fs.Remove(tmp)
		return fail(fmt.Errorf("encode: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fail(err)
	}
	if err := s.fs.Rename(tmp, spec.DerivedPath); err != nil {
		_ = s.fs.Remove(tmp)
		return fail(err)
	}

	s.logger.Debug("thumbnail generated",
		"source", spec.SourcePath,
		"derived", spec.DerivedPath,
		"width", resized.Bounds().Dx(),
		"height", resized.Bounds().Dy())
	return nil
}
