// Package executor applies a publish plan to the remote store.
//
// Actions run strictly one at a time: every upload in plan order, then every
// delete. A cancellation token is checked at each action boundary, so an
// in-flight transfer is never interrupted. The first failing action stops
// the run.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"golang.org/x/time/rate"

	"github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/remote"
	"github.com/cruskit/afterglow-manager/publish/internal/sync/comparator"
	"github.com/cruskit/afterglow-manager/publish/internal/validation"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

// State is the lifecycle state of an Executor.
type State int32

// Executor states
const (
	StateIdle State = iota
	StateRunning
	StateComplete
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// CancelToken is a cooperative stop signal shared between the caller and
// a running Executor.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests a stop at the next action boundary. Safe to call repeatedly.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.cancelled.Load()
}

// Result reports the outcome of a run.
type Result struct {
	State    State
	Uploaded int
	Deleted  int

	// File and Err describe the failing action when State is StateError
	File string
	Err  error
}

// Applied returns the number of actions that reached the remote store.
func (r *Result) Applied() int {
	return r.Uploaded + r.Deleted
}

// ProgressFunc receives one event per action, before the action starts.
type ProgressFunc func(pubtypes.ProgressEvent)

// Executor runs a single plan. It is not reusable.
type Executor struct {
	fs      billy.Filesystem
	store   remote.Store
	limiter *rate.Limiter
	logger  *slog.Logger
	state   atomic.Int32
}

// Option configures an Executor.
type Option func(*Executor)

// WithRateLimiter throttles actions. Each action waits for one token.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Executor) {
		e.limiter = l
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates an executor that reads local files from fs and writes to store.
func NewExecutor(fs billy.Filesystem, store remote.Store, opts ...Option) *Executor {
	e := &Executor{
		fs:     fs,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	return State(e.state.Load())
}

// Run applies plan. The returned result always carries a terminal state.
// Cancellation through token or ctx is reported as StateCancelled, not as
// an error.
func (e *Executor) Run(ctx context.Context, plan *pubtypes.Plan, token *CancelToken, progress ProgressFunc) *Result {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return &Result{
			State: StateError,
			Err:   errors.NewError("execute", errors.ErrPublishInProgress).WithMessage("executor already used"),
		}
	}
	if progress == nil {
		progress = func(pubtypes.ProgressEvent) {}
	}

	res := e.run(ctx, plan, token, progress)
	e.state.Store(int32(res.State))

	e.logger.Info("publish execution finished",
		"plan_id", plan.PlanID,
		"state", res.State.String(),
		"uploaded", res.Uploaded,
		"deleted", res.Deleted)
	return res
}

func (e *Executor) run(ctx context.Context, plan *pubtypes.Plan, token *CancelToken, progress ProgressFunc) *Result {
	res := &Result{}
	total := plan.TotalActions()
	current := 0

	// stop is checked at every action boundary
	stop := func() bool {
		if token.Cancelled() || ctx.Err() != nil {
			return true
		}
		if e.limiter != nil && e.limiter.Wait(ctx) != nil {
			return true
		}
		return false
	}

	for _, action := range plan.ToUpload {
		if stop() {
			res.State = StateCancelled
			return res
		}
		current++
		progress(pubtypes.ProgressEvent{Current: current, Total: total, File: action.RemoteKey, Action: pubtypes.ActionUpload})

		if err := e.upload(ctx, action); err != nil {
			res.State = StateError
			res.File = action.LocalPath
			res.Err = err
			return res
		}
		res.Uploaded++
	}

	for _, key := range plan.ToDelete {
		if stop() {
			res.State = StateCancelled
			return res
		}
		current++
		progress(pubtypes.ProgressEvent{Current: current, Total: total, File: key, Action: pubtypes.ActionDelete})

		if err := e.delete(ctx, plan.Store.Prefix, key); err != nil {
			res.State = StateError
			res.File = key
			res.Err = err
			return res
		}
		res.Deleted++
	}

	res.State = StateComplete
	return res
}

// upload re-hashes the local file and sends it only if it still matches
// the digest recorded at preview time.
func (e *Executor) upload(ctx context.Context, action pubtypes.SyncAction) error {
	f, err := e.fs.Open(action.LocalPath)
	if err != nil {
		return errors.NewObjectError("upload", action.LocalPath, action.RemoteKey,
			fmt.Errorf("%w: %w", errors.ErrUpload, err))
	}
	defer func() { _ = f.Close() }()

	digest, size, err := comparator.HashReader(f)
	if err != nil {
		return errors.NewObjectError("upload", action.LocalPath, action.RemoteKey,
			fmt.Errorf("%w: %w", errors.ErrUpload, err))
	}
	if digest != action.MD5 || size != action.SizeBytes {
		return errors.NewObjectError("upload", action.LocalPath, action.RemoteKey, errors.ErrUpload).
			WithMessage("file changed since preview")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.NewObjectError("upload", action.LocalPath, action.RemoteKey,
			fmt.Errorf("%w: %w", errors.ErrUpload, err))
	}

	e.logger.Debug("uploading", "key", action.RemoteKey, "size", size)
	err = e.store.Put(ctx, action.RemoteKey, f, size, remote.PutOptions{
		ContentType: action.ContentType,
		MD5:         digest,
	})
	if err != nil {
		return errors.NewObjectError("upload", action.LocalPath, action.RemoteKey,
			fmt.Errorf("%w: %w", errors.ErrUpload, err))
	}
	return nil
}

func (e *Executor) delete(ctx context.Context, prefix, key string) error {
	if !validation.InScope(key, prefix) {
		return errors.NewError("delete", errors.ErrDelete).
			WithKey(key).
			WithMessage(fmt.Sprintf("refusing to delete outside prefix %q", prefix))
	}

	e.logger.Debug("deleting", "key", key)
	if err := e.store.Delete(ctx, key); err != nil {
		return errors.NewError("delete", fmt.Errorf("%w: %w", errors.ErrDelete, err)).WithKey(key)
	}
	return nil
}
