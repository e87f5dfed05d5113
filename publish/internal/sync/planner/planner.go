// Package planner computes the difference between the reachable set and the
// remote prefix and freezes it into a publish plan.
//
// Every reachable file is hashed, the prefix is listed once, and each file is
// classified as an upload or unchanged in reachable order. Remote keys under
// the prefix that no reachable file claims become deletes.
package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/remote"
	"github.com/cruskit/afterglow-manager/publish/internal/sync/comparator"
	"github.com/cruskit/afterglow-manager/publish/internal/validation"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// DefaultConcurrency is the number of files hashed in parallel.
const DefaultConcurrency = 4

// Planner builds publish plans.
type Planner struct {
	fs          billy.Filesystem
	store       remote.Store
	comparator  comparator.Comparator
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

// WithConcurrency sets how many files are hashed in parallel.
func WithConcurrency(n int) Option {
	return func(p *Planner) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the plan creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPlanner creates a planner that reads local files from fs and lists store.
func NewPlanner(fs billy.Filesystem, store remote.Store, opts ...Option) *Planner {
	p := &Planner{
		fs:          fs,
		store:       store,
		comparator:  comparator.NewETagComparator(),
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan hashes files, lists prefix and returns the resulting plan. Any hash
// or listing failure aborts planning; a partial plan is never returned.
func (p *Planner) Plan(ctx context.Context, files []pubtypes.ReachableFile, prefix string) (*pubtypes.Plan, error) {
	if prefix == "" {
		return nil, errors.NewError("plan", errors.ErrInvalidInput).
			WithMessage("prefix cannot be empty")
	}

	files = uniqueByKey(files)

	hashed, err := p.hashAll(ctx, files)
	if err != nil {
		return nil, err
	}

	objects, err := p.store.List(ctx, prefix)
	if err != nil {
		return nil, errors.NewError("list", fmt.Errorf("%w: %w", errors.ErrRemoteList, err)).WithKey(prefix)
	}
	remoteMap := buildRemoteMap(prefix, objects)

	plan := &pubtypes.Plan{
		PlanID:     uuid.NewString(),
		ToUpload:   []pubtypes.SyncAction{},
		ToDelete:   []string{},
		TotalFiles: len(files),
		CreatedAt:  p.now(),
	}

	reachable := make(map[string]struct{}, len(files))
	for i, f := range files {
		reachable[f.RemoteKey] = struct{}{}

		local := hashed[i]
		var remoteObj *comparator.RemoteObject
		if obj, ok := remoteMap[f.RemoteKey]; ok {
			remoteObj = &comparator.RemoteObject{Key: obj.Key, ETag: obj.ETag, Size: obj.Size}
		}

		changed, reason := p.comparator.HasChanged(local, remoteObj)
		if !changed {
			plan.UnchangedCount++
			continue
		}

		p.logger.Debug("planned upload", "key", f.RemoteKey, "reason", reason)
		plan.ToUpload = append(plan.ToUpload, pubtypes.SyncAction{
			Kind:        pubtypes.ActionUpload,
			LocalPath:   f.LocalPath,
			RemoteKey:   f.RemoteKey,
			SizeBytes:   local.Size,
			ContentType: detectContentType(p.fs, f.LocalPath),
			MD5:         local.MD5,
		})
	}

	plan.ToDelete = planDeletes(prefix, remoteMap, reachable)

	p.logger.Info("publish plan created",
		"plan_id", plan.PlanID,
		"upload", len(plan.ToUpload),
		"delete", len(plan.ToDelete),
		"unchanged", plan.UnchangedCount,
		"total", plan.TotalFiles)

	return plan, nil
}

// hashAll computes MD5 digests with bounded parallelism, preserving order.
func (p *Planner) hashAll(ctx context.Context, files []pubtypes.ReachableFile) ([]comparator.LocalFile, error) {
	hashed := make([]comparator.LocalFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			digest, size, err := comparator.ComputeMD5(p.fs, f.LocalPath)
			if err != nil {
				return errors.NewPathError("hash", f.LocalPath,
					fmt.Errorf("%w: %w", errors.ErrHashComputation, err))
			}
			hashed[i] = comparator.LocalFile{Path: f.LocalPath, Size: size, MD5: digest}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hashed, nil
}

// buildRemoteMap indexes listed objects, dropping anything outside prefix.
func buildRemoteMap(prefix string, objects []remote.Object) map[string]remote.Object {
	m := make(map[string]remote.Object, len(objects))
	for _, obj := range objects {
		if !validation.InScope(obj.Key, prefix) {
			continue
		}
		m[obj.Key] = obj
	}
	return m
}

// planDeletes returns the sorted in-scope remote keys absent from reachable.
func planDeletes(prefix string, remoteMap map[string]remote.Object, reachable map[string]struct{}) []string {
	deletes := []string{}
	for key := range remoteMap {
		if _, ok := reachable[key]; ok {
			continue
		}
		if !validation.InScope(key, prefix) {
			continue
		}
		deletes = append(deletes, key)
	}
	sort.Strings(deletes)
	return deletes
}

func uniqueByKey(files []pubtypes.ReachableFile) []pubtypes.ReachableFile {
	seen := make(map[string]struct{}, len(files))
	out := make([]pubtypes.ReachableFile, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f.RemoteKey]; ok {
			continue
		}
		seen[f.RemoteKey] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Stats summarizes a plan for display.
type Stats struct {
	Uploads     int
	Deletes     int
	Unchanged   int
	UploadBytes int64
}

// GetPlanStats calculates statistics about a plan.
func GetPlanStats(plan *pubtypes.Plan) Stats {
	stats := Stats{
		Uploads:   len(plan.ToUpload),
		Deletes:   len(plan.ToDelete),
		Unchanged: plan.UnchangedCount,
	}
	for _, a := range plan.ToUpload {
		stats.UploadBytes += a.SizeBytes
	}
	return stats
}

// ValidatePlan checks the safety invariants of a plan against its prefix:
// no key is both uploaded and deleted, and every key lies under the prefix.
func ValidatePlan(plan *pubtypes.Plan, prefix string) error {
	uploads := make(map[string]struct{}, len(plan.ToUpload))
	for _, a := range plan.ToUpload {
		if err := validation.ValidateObjectKey(a.RemoteKey, prefix); err != nil {
			return err
		}
		uploads[a.RemoteKey] = struct{}{}
	}
	for _, key := range plan.ToDelete {
		if err := validation.ValidateObjectKey(key, prefix); err != nil {
			return err
		}
		if _, ok := uploads[key]; ok {
			return errors.NewError("validatePlan", errors.ErrInvalidInput).
				WithKey(key).
				WithMessage("key is both uploaded and deleted")
		}
	}
	return nil
}
