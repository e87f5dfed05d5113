package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/invalidate"
	"github.com/cruskit/afterglow-manager/publish/internal/lock"
	"github.com/cruskit/afterglow-manager/publish/internal/manifest"
	"github.com/cruskit/afterglow-manager/publish/internal/remote"
	"github.com/cruskit/afterglow-manager/publish/internal/sync/executor"
	"github.com/cruskit/afterglow-manager/publish/internal/sync/planner"
	"github.com/cruskit/afterglow-manager/publish/internal/thumbnail"
	"github.com/cruskit/afterglow-manager/publish/internal/validation"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// ValidateTimeout bounds Engine.Validate.
const ValidateTimeout = 15 * time.Second

// PreviewRequest describes a preview.
type PreviewRequest struct {
	// WorkspaceRoot is the directory holding galleries.json
	WorkspaceRoot string

	Store pubtypes.StoreParams

	// OnThumbnail, when set, receives one event per derived thumbnail
	OnThumbnail func(pubtypes.ThumbnailProgress)
}

// Engine runs previews and executions. It is safe for concurrent use; calls
// for the same workspace are serialized by rejection, not queueing.
type Engine struct {
	cfg config

	mu sync.Mutex

	// plans holds every stored plan by id
	plans map[string]*pubtypes.Plan

	// latest maps a workspace root to its current plan id
	latest map[string]string

	// active maps a workspace root to the operation holding it
	active map[string]*operation
}

type operation struct {
	planID string
	token  *executor.CancelToken
}

// New creates an engine.
func New(opts ...Option) *Engine {
	cfg := config{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency:    planner.DefaultConcurrency,
		invalidateWait: invalidate.DefaultTimeout,
		now:            time.Now,
		openFS: func(root string) billy.Filesystem {
			return osfs.New(root)
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.openStore == nil {
		cfg.openStore = func(ctx context.Context, params pubtypes.StoreParams) (Store, error) {
			return remote.Dial(ctx, params, cfg.credentials, cfg.logger)
		}
	}
	if cfg.openInvalidate == nil {
		cfg.openInvalidate = func(ctx context.Context, distribution string) (Invalidator, error) {
			inv, err := invalidate.Dial(ctx, distribution, cfg.credentials,
				invalidate.WithTimeout(cfg.invalidateWait),
				invalidate.WithLogger(cfg.logger))
			if err != nil {
				return nil, err
			}
			cfg.logger.Debug("cdn client ready", "distribution_id", inv.DistributionID())
			return inv, nil
		}
	}

	return &Engine{
		cfg:    cfg,
		plans:  make(map[string]*pubtypes.Plan),
		latest: make(map[string]string),
		active: make(map[string]*operation),
	}
}

// Preview computes and stores a plan for the workspace, superseding any
// earlier plan for it.
func (e *Engine) Preview(ctx context.Context, req PreviewRequest) (*pubtypes.Plan, error) {
	root, params, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	release, err := e.hold(root, &operation{})
	if err != nil {
		return nil, err
	}
	defer release()

	fs := e.cfg.openFS(root)
	held, err := lock.Acquire(fs)
	if err != nil {
		return nil, err
	}
	defer e.releaseLock(held)

	logger := e.cfg.logger.With("workspace", root)
	logger.Debug("workspace lock acquired", "owner", held.Owner().String())
	start := e.cfg.now()

	resolved, err := manifest.NewResolver(fs, params.Prefix,
		manifest.WithStaticAssets(e.cfg.staticAssets),
		manifest.WithLogger(logger),
	).Resolve(ctx)
	if err != nil {
		return nil, err
	}

	staged, err := thumbnail.NewStage(fs, params.Prefix,
		thumbnail.WithProgress(req.OnThumbnail),
		thumbnail.WithLogger(logger),
	).Run(ctx, resolved.Files)
	if err != nil {
		return nil, err
	}

	store, err := e.cfg.openStore(ctx, params)
	if err != nil {
		return nil, err
	}

	plan, err := planner.NewPlanner(fs, store,
		planner.WithConcurrency(e.cfg.concurrency),
		planner.WithLogger(logger),
		planner.WithClock(e.cfg.now),
	).Plan(ctx, staged.Files, params.Prefix)
	if err != nil {
		return nil, err
	}
	if err := planner.ValidatePlan(plan, params.Prefix); err != nil {
		return nil, err
	}

	plan.WorkspaceRoot = root
	plan.Store = params
	plan.Warnings = append(append([]pubtypes.Warning{}, resolved.Warnings...), staged.Warnings...)

	e.mu.Lock()
	if prev, ok := e.latest[root]; ok {
		delete(e.plans, prev)
	}
	e.plans[plan.PlanID] = plan
	e.latest[root] = plan.PlanID
	e.mu.Unlock()

	logger.Info("preview complete",
		"plan_id", plan.PlanID,
		"upload", len(plan.ToUpload),
		"delete", len(plan.ToDelete),
		"unchanged", plan.UnchangedCount,
		"warnings", len(plan.Warnings),
		"thumbnails_generated", len(staged.Generated),
		"duration", e.cfg.now().Sub(start))

	return clonePlan(plan), nil
}

// Plan returns a copy of a stored plan.
func (e *Engine) Plan(planID string) (*pubtypes.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.plans[planID]
	if !ok {
		return nil, errors.NewError("plan", errors.ErrPlanNotFound).WithMessage(planID)
	}
	return clonePlan(plan), nil
}

// Execute starts applying a stored plan. The returned channel receives one
// progress event per action, an invalidate progress event when a
// distribution is configured, then exactly one terminal event, and is then
// closed. Execution stops early if ctx is cancelled.
//
// A completed plan is consumed. A plan that failed or was cancelled stays
// available and may be executed again from the start.
func (e *Engine) Execute(ctx context.Context, planID string) (<-chan pubtypes.Event, error) {
	e.mu.Lock()
	plan, ok := e.plans[planID]
	e.mu.Unlock()
	if !ok {
		return nil, errors.NewError("execute", errors.ErrPlanNotFound).WithMessage(planID)
	}

	op := &operation{planID: planID, token: executor.NewCancelToken()}
	release, err := e.hold(plan.WorkspaceRoot, op)
	if err != nil {
		return nil, err
	}

	// A preview may have superseded the plan before the hold was taken.
	e.mu.Lock()
	_, ok = e.plans[planID]
	e.mu.Unlock()
	if !ok {
		release()
		return nil, errors.NewError("execute", errors.ErrPlanNotFound).WithMessage(planID)
	}

	fs := e.cfg.openFS(plan.WorkspaceRoot)
	held, err := lock.Acquire(fs)
	if err != nil {
		release()
		return nil, err
	}

	store, err := e.cfg.openStore(ctx, plan.Store)
	if err != nil {
		e.releaseLock(held)
		release()
		return nil, err
	}

	events := make(chan pubtypes.Event, plan.TotalActions()+2)
	go func() {
		defer close(events)
		defer release()
		defer e.releaseLock(held)
		e.run(ctx, plan, fs, store, op.token, events)
	}()
	return events, nil
}

// Cancel asks a running execution of planID to stop at the next action
// boundary. It is a no-op when the plan is unknown or not running.
func (e *Engine) Cancel(planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range e.active {
		if op.planID == planID && op.token != nil {
			op.token.Cancel()
			e.cfg.logger.Info("cancellation requested", "plan_id", planID)
		}
	}
	return nil
}

// Unlock removes a stale on-disk workspace lock left by a crashed process.
// It refuses while this engine itself holds the workspace.
func (e *Engine) Unlock(workspaceRoot string) (bool, error) {
	root, err := cleanRoot(workspaceRoot)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	_, busy := e.active[root]
	e.mu.Unlock()
	if busy {
		return false, errors.NewPathError("unlock", root, errors.ErrPublishInProgress)
	}

	return lock.ForceUnlock(e.cfg.openFS(root))
}

// Validate checks that the store is reachable with the configured
// credentials by listing at most one object under the prefix.
func (e *Engine) Validate(ctx context.Context, params pubtypes.StoreParams) error {
	prefix, err := validation.NormalizePrefix(params.Prefix)
	if err != nil {
		return err
	}
	params.Prefix = prefix

	ctx, cancel := context.WithTimeout(ctx, ValidateTimeout)
	defer cancel()

	store, err := e.cfg.openStore(ctx, params)
	if err != nil {
		return err
	}
	return remote.Probe(ctx, store, prefix)
}

func (e *Engine) run(
	ctx context.Context,
	plan *pubtypes.Plan,
	fs billy.Filesystem,
	store Store,
	token *executor.CancelToken,
	events chan<- pubtypes.Event,
) {
	logger := e.cfg.logger.With("plan_id", plan.PlanID)

	opts := []executor.Option{executor.WithLogger(logger)}
	if e.cfg.limiter != nil {
		opts = append(opts, executor.WithRateLimiter(e.cfg.limiter))
	}
	res := executor.NewExecutor(fs, store, opts...).Run(ctx, plan, token, func(p pubtypes.ProgressEvent) {
		events <- pubtypes.Event{Kind: pubtypes.EventProgress, Progress: &p}
	})

	summary := pubtypes.Summary{
		Uploaded:  res.Uploaded,
		Deleted:   res.Deleted,
		Unchanged: plan.UnchangedCount,
	}

	switch res.State {
	case executor.StateCancelled:
		logger.Info("execution cancelled", "uploaded", res.Uploaded, "deleted", res.Deleted)
		events <- pubtypes.Event{Kind: pubtypes.EventCancelled, Summary: summary}
		return
	case executor.StateError:
		logger.Error("execution failed", "file", res.File, "error", res.Err)
		events <- pubtypes.Event{
			Kind:    pubtypes.EventError,
			Summary: summary,
			Message: res.Err.Error(),
			File:    res.File,
			Err:     res.Err,
		}
		return
	}

	// Every file action has been applied; the plan cannot be retried
	// meaningfully from here on.
	e.consume(plan)

	if plan.Store.DistributionID != "" {
		total := plan.TotalActions()
		events <- pubtypes.Event{Kind: pubtypes.EventProgress, Progress: &pubtypes.ProgressEvent{
			Current: total,
			Total:   total,
			File:    invalidate.Path(plan.Store.Prefix),
			Action:  pubtypes.ActionInvalidate,
		}}
		if err := e.invalidate(ctx, plan); err != nil {
			logger.Error("cache invalidation failed after sync", "error", err)
			events <- pubtypes.Event{
				Kind:          pubtypes.EventError,
				Summary:       summary,
				Message:       err.Error(),
				Err:           err,
				SyncCompleted: true,
			}
			return
		}
	}

	events <- pubtypes.Event{Kind: pubtypes.EventComplete, Summary: summary}
}

func (e *Engine) invalidate(ctx context.Context, plan *pubtypes.Plan) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.invalidateWait)
	defer cancel()

	inv, err := e.cfg.openInvalidate(ctx, plan.Store.DistributionID)
	if err == nil {
		_, err = inv.Invalidate(ctx, plan.Store.Prefix)
	}
	if err != nil && !errors.IsInvalidation(err) {
		err = errors.NewError("invalidate", fmt.Errorf("%w: %w", errors.ErrInvalidation, err))
	}
	return err
}

// hold marks root as busy for op. The returned func clears the mark.
func (e *Engine) hold(root string, op *operation) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, busy := e.active[root]; busy {
		what := "preview"
		if cur.planID != "" {
			what = "execution of plan " + cur.planID
		}
		return nil, errors.NewPathError("hold", root, errors.ErrPublishInProgress).
			WithMessage(what + " is running")
	}
	e.active[root] = op
	return func() {
		e.mu.Lock()
		delete(e.active, root)
		e.mu.Unlock()
	}, nil
}

func (e *Engine) consume(plan *pubtypes.Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.plans, plan.PlanID)
	if e.latest[plan.WorkspaceRoot] == plan.PlanID {
		delete(e.latest, plan.WorkspaceRoot)
	}
}

func (e *Engine) releaseLock(l *lock.Lock) {
	if err := l.Release(); err != nil {
		e.cfg.logger.Warn("failed to release workspace lock", "error", err)
	}
}

func normalizeRequest(req PreviewRequest) (string, pubtypes.StoreParams, error) {
	root, err := cleanRoot(req.WorkspaceRoot)
	if err != nil {
		return "", pubtypes.StoreParams{}, err
	}

	params := req.Store
	params.Prefix, err = validation.NormalizePrefix(params.Prefix)
	if err != nil {
		return "", pubtypes.StoreParams{}, err
	}
	params.Bucket = strings.TrimSpace(params.Bucket)
	if err := validation.ValidateBucketName(validation.ExtractBucketName(params.Bucket)); err != nil {
		return "", pubtypes.StoreParams{}, err
	}
	params.DistributionID = invalidate.ExtractDistributionID(params.DistributionID)
	return root, params, nil
}

func cleanRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.NewError("preview", errors.ErrInvalidInput).
			WithMessage("workspace root cannot be empty")
	}
	return filepath.Clean(root), nil
}

func clonePlan(p *pubtypes.Plan) *pubtypes.Plan {
	c := *p
	c.ToUpload = append([]pubtypes.SyncAction{}, p.ToUpload...)
	c.ToDelete = append([]string{}, p.ToDelete...)
	if p.Warnings != nil {
		c.Warnings = append([]pubtypes.Warning{}, p.Warnings...)
	}
	return &c
}

// PlanStats summarizes a plan for display.
type PlanStats = planner.Stats

// Stats counts the actions and upload bytes of plan.
func Stats(plan *pubtypes.Plan) PlanStats {
	return planner.GetPlanStats(plan)
}
