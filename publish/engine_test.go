package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puberrors "github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/lock"
	"github.com/cruskit/afterglow-manager/publish/internal/testutil"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

const root = "/photos"

type fakeInvalidator struct {
	mu           sync.Mutex
	distribution string
	prefixes     []string
	err          error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes = append(f.prefixes, prefix)
	if f.err != nil {
		return "", f.err
	}
	return "I1", nil
}

type harness struct {
	t      *testing.T
	ws     *testutil.Workspace
	store  *testutil.MemStore
	inv    *fakeInvalidator
	engine *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ws:    testutil.SunsetWorkspace(testutil.NewMemWorkspace(t)),
		store: testutil.NewMemStore(),
		inv:   &fakeInvalidator{},
	}
	base := []Option{
		WithFilesystemFactory(func(string) billy.Filesystem { return h.ws.FS }),
		WithStoreFactory(func(context.Context, pubtypes.StoreParams) (Store, error) { return h.store, nil }),
		WithInvalidatorFactory(func(_ context.Context, distribution string) (Invalidator, error) {
			h.inv.mu.Lock()
			h.inv.distribution = distribution
			h.inv.mu.Unlock()
			return h.inv, nil
		}),
	}
	h.engine = New(append(base, opts...)...)
	return h
}

func (h *harness) request(distribution string) PreviewRequest {
	return PreviewRequest{
		WorkspaceRoot: root,
		Store: pubtypes.StoreParams{
			Bucket:         "my-site",
			Region:         "ap-southeast-2",
			Prefix:         "galleries",
			DistributionID: distribution,
		},
	}
}

func (h *harness) preview(distribution string) *pubtypes.Plan {
	h.t.Helper()
	plan, err := h.engine.Preview(context.Background(), h.request(distribution))
	require.NoError(h.t, err)
	return plan
}

// drain reads events until the channel closes.
func drain(t *testing.T, ch <-chan pubtypes.Event) []pubtypes.Event {
	t.Helper()
	var events []pubtypes.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for execution events")
			return nil
		}
	}
}

func (h *harness) execute(planID string) []pubtypes.Event {
	h.t.Helper()
	ch, err := h.engine.Execute(context.Background(), planID)
	require.NoError(h.t, err)
	events := drain(h.t, ch)
	require.NotEmpty(h.t, events)
	for _, ev := range events[:len(events)-1] {
		require.False(h.t, ev.Terminal(), "terminal event must be last")
	}
	return events
}

func progressOf(events []pubtypes.Event) []pubtypes.ProgressEvent {
	var out []pubtypes.ProgressEvent
	for _, ev := range events {
		if ev.Kind == pubtypes.EventProgress {
			out = append(out, *ev.Progress)
		}
	}
	return out
}

func TestEngine_ColdThenSteadyState(t *testing.T) {
	h := newHarness(t)

	plan := h.preview("")
	assert.Equal(t, root, plan.WorkspaceRoot)
	assert.Equal(t, "galleries/", plan.Store.Prefix)
	assert.Equal(t, 6, plan.TotalFiles)
	assert.Len(t, plan.ToUpload, 6)
	assert.Empty(t, plan.ToDelete)

	events := h.execute(plan.PlanID)
	progress := progressOf(events)
	require.Len(t, progress, 6)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Current)
		assert.Equal(t, 6, p.Total)
		assert.Equal(t, pubtypes.ActionUpload, p.Action)
	}

	last := events[len(events)-1]
	assert.Equal(t, pubtypes.EventComplete, last.Kind)
	assert.Equal(t, pubtypes.Summary{Uploaded: 6, Deleted: 0, Unchanged: 0}, last.Summary)
	assert.Len(t, h.store.Keys(), 6)

	_, err := h.engine.Plan(plan.PlanID)
	assert.True(t, puberrors.IsPlanNotFound(err), "completed plans are consumed")
	_, err = h.engine.Execute(context.Background(), plan.PlanID)
	assert.True(t, puberrors.IsPlanNotFound(err))

	again := h.preview("")
	assert.Empty(t, again.ToUpload)
	assert.Empty(t, again.ToDelete)
	assert.Equal(t, 6, again.UnchangedCount)
	assert.Equal(t, again.TotalFiles, again.UnchangedCount)

	events = h.execute(again.PlanID)
	require.Len(t, events, 1)
	assert.Equal(t, pubtypes.Summary{Unchanged: 6}, events[0].Summary)
}

func TestEngine_OrphanCleanup(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("galleries/autumn/gallery-details.json", []byte("{}")).
		Seed("index.html", []byte("<html>"))

	plan := h.preview("")
	assert.Equal(t, []string{"galleries/autumn/gallery-details.json"}, plan.ToDelete)

	events := h.execute(plan.PlanID)
	progress := progressOf(events)
	require.Len(t, progress, 7)
	assert.Equal(t, pubtypes.ActionDelete, progress[6].Action)
	assert.Equal(t, pubtypes.Summary{Uploaded: 6, Deleted: 1}, events[len(events)-1].Summary)
	assert.Contains(t, h.store.Keys(), "index.html")
	assert.NotContains(t, h.store.Keys(), "galleries/autumn/gallery-details.json")
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	h.store.Seed("galleries/autumn/gallery-details.json", []byte("{}"))

	plan := h.preview("")
	stats := Stats(plan)
	assert.Equal(t, 6, stats.Uploads)
	assert.Equal(t, 1, stats.Deletes)
	assert.Equal(t, 0, stats.Unchanged)

	var total int64
	for _, a := range plan.ToUpload {
		total += a.SizeBytes
	}
	assert.Equal(t, total, stats.UploadBytes)
	assert.Positive(t, stats.UploadBytes)
}

func TestEngine_CancelMidFlight(t *testing.T) {
	h := newHarness(t)
	plan := h.preview("")

	h.store.AfterPut = func(string) {
		if len(h.store.Puts) == 3 {
			assert.NoError(t, h.engine.Cancel(plan.PlanID))
		}
	}
	events := h.execute(plan.PlanID)

	last := events[len(events)-1]
	assert.Equal(t, pubtypes.EventCancelled, last.Kind)
	assert.Equal(t, 3, last.Summary.Uploaded)
	assert.Len(t, progressOf(events), 3)

	objects, err := h.store.List(context.Background(), "galleries/")
	require.NoError(t, err)
	assert.Len(t, objects, 3)

	// Cancelling a finished execution does nothing.
	require.NoError(t, h.engine.Cancel(plan.PlanID))

	// The plan survives for a retry, which starts from the beginning.
	h.store.AfterPut = nil
	_, err = h.engine.Plan(plan.PlanID)
	require.NoError(t, err)

	events = h.execute(plan.PlanID)
	last = events[len(events)-1]
	assert.Equal(t, pubtypes.EventComplete, last.Kind)
	assert.Equal(t, 6, last.Summary.Uploaded)
	assert.Len(t, h.store.Keys(), 6)
}

func TestEngine_ActionFailure(t *testing.T) {
	h := newHarness(t)
	plan := h.preview("")

	h.store.BeforePut = func(key string) error {
		if key == "galleries/sunset/gallery-details.json" {
			return errors.New("InternalError")
		}
		return nil
	}
	events := h.execute(plan.PlanID)

	last := events[len(events)-1]
	assert.Equal(t, pubtypes.EventError, last.Kind)
	assert.Equal(t, "sunset/gallery-details.json", last.File)
	assert.Contains(t, last.Message, "InternalError")
	assert.ErrorIs(t, last.Err, puberrors.ErrUpload)
	assert.False(t, last.SyncCompleted)
	assert.Equal(t, 2, last.Summary.Uploaded)
	assert.Len(t, progressOf(events), 3)

	_, err := h.engine.Plan(plan.PlanID)
	assert.NoError(t, err, "failed plans stay available for retry")
}

func TestEngine_Invalidation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t)
		plan := h.preview("arn:aws:cloudfront::123456789012:distribution/E2ABCDEF")
		assert.Equal(t, "E2ABCDEF", plan.Store.DistributionID)

		events := h.execute(plan.PlanID)
		progress := progressOf(events)
		require.Len(t, progress, 7)
		inv := progress[6]
		assert.Equal(t, pubtypes.ActionInvalidate, inv.Action)
		assert.Equal(t, 6, inv.Current)
		assert.Equal(t, 6, inv.Total)
		assert.Equal(t, "/galleries/*", inv.File)

		assert.Equal(t, pubtypes.EventComplete, events[len(events)-1].Kind)
		assert.Equal(t, "E2ABCDEF", h.inv.distribution)
		assert.Equal(t, []string{"galleries/"}, h.inv.prefixes)
	})

	t.Run("failure after sync", func(t *testing.T) {
		h := newHarness(t)
		h.inv.err = errors.New("throttled")
		plan := h.preview("E2ABCDEF")

		events := h.execute(plan.PlanID)
		last := events[len(events)-1]
		assert.Equal(t, pubtypes.EventError, last.Kind)
		assert.True(t, last.SyncCompleted)
		assert.True(t, puberrors.IsInvalidation(last.Err))
		assert.Contains(t, last.Message, "throttled")
		assert.Equal(t, 6, last.Summary.Uploaded)
		assert.Len(t, h.store.Keys(), 6)

		_, err := h.engine.Plan(plan.PlanID)
		assert.True(t, puberrors.IsPlanNotFound(err), "synced plans are consumed even if invalidation fails")
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t)
		plan := h.preview("")
		h.execute(plan.PlanID)
		assert.Empty(t, h.inv.prefixes)
	})
}

func TestEngine_Busy(t *testing.T) {
	h := newHarness(t)
	plan := h.preview("")

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	h.store.BeforePut = func(string) error {
		once.Do(func() { close(entered) })
		<-unblock
		return nil
	}

	ch, err := h.engine.Execute(context.Background(), plan.PlanID)
	require.NoError(t, err)
	<-entered

	_, err = h.engine.Preview(context.Background(), h.request(""))
	assert.True(t, puberrors.IsBusy(err))
	_, err = h.engine.Execute(context.Background(), plan.PlanID)
	assert.ErrorIs(t, err, puberrors.ErrPublishInProgress)
	_, err = h.engine.Unlock(root)
	assert.ErrorIs(t, err, puberrors.ErrPublishInProgress)

	close(unblock)
	events := drain(t, ch)
	assert.Equal(t, pubtypes.EventComplete, events[len(events)-1].Kind)

	_, err = h.engine.Preview(context.Background(), h.request(""))
	assert.NoError(t, err)
}

func TestEngine_LockedByAnotherProcess(t *testing.T) {
	h := newHarness(t)
	_, err := lock.Acquire(h.ws.FS)
	require.NoError(t, err)

	_, err = h.engine.Preview(context.Background(), h.request(""))
	assert.ErrorIs(t, err, puberrors.ErrWorkspaceLocked)

	removed, err := h.engine.Unlock(root)
	require.NoError(t, err)
	assert.True(t, removed)

	h.preview("")
	_, err = h.ws.FS.Stat(lock.Path)
	assert.Error(t, err, "preview releases its lock")
}

func TestEngine_Supersession(t *testing.T) {
	h := newHarness(t)
	first := h.preview("")
	second := h.preview("")
	assert.NotEqual(t, first.PlanID, second.PlanID)

	_, err := h.engine.Execute(context.Background(), first.PlanID)
	assert.True(t, puberrors.IsPlanNotFound(err))

	stored, err := h.engine.Plan(second.PlanID)
	require.NoError(t, err)
	assert.Equal(t, second, stored)
}

func TestEngine_PlanIsACopy(t *testing.T) {
	h := newHarness(t)
	plan := h.preview("")
	plan.ToUpload = plan.ToUpload[:1]

	stored, err := h.engine.Plan(plan.PlanID)
	require.NoError(t, err)
	assert.Len(t, stored.ToUpload, 6)
}

func TestEngine_CancelUnknownPlan(t *testing.T) {
	assert.NoError(t, newHarness(t).engine.Cancel("no-such-plan"))
}

func TestEngine_PreviewWarningsAndProgress(t *testing.T) {
	h := newHarness(t)
	h.ws.Remove("sunset/02.jpg")

	var thumbs []pubtypes.ThumbnailProgress
	req := h.request("")
	req.OnThumbnail = func(p pubtypes.ThumbnailProgress) { thumbs = append(thumbs, p) }

	plan, err := h.engine.Preview(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, plan.Warnings, 2)
	for _, w := range plan.Warnings {
		assert.Equal(t, pubtypes.WarningMissingAsset, w.Kind)
		assert.Equal(t, "sunset/02.jpg", w.Path)
	}
	assert.Equal(t, 4, plan.TotalFiles)
	require.Len(t, thumbs, 1)
	assert.Equal(t, pubtypes.ThumbnailProgress{Current: 1, Total: 1, Filename: "01.jpg"}, thumbs[0])
}

func TestEngine_PreviewErrors(t *testing.T) {
	t.Run("resolution", func(t *testing.T) {
		h := newHarness(t)
		h.ws.WriteFile("galleries.json", []byte("{not json"))
		_, err := h.engine.Preview(context.Background(), h.request(""))
		assert.True(t, puberrors.IsResolution(err))
		assert.Equal(t, "galleries.json", puberrors.FileOf(err))
	})

	t.Run("remote listing", func(t *testing.T) {
		h := newHarness(t)
		h.store.ListErr = errors.New("no route to host")
		_, err := h.engine.Preview(context.Background(), h.request(""))
		assert.True(t, puberrors.IsRemoteList(err))
	})

	t.Run("invalid request", func(t *testing.T) {
		h := newHarness(t)
		req := h.request("")
		req.WorkspaceRoot = " "
		_, err := h.engine.Preview(context.Background(), req)
		assert.True(t, puberrors.IsInvalidInput(err))

		req = h.request("")
		req.Store.Prefix = "../up"
		_, err = h.engine.Preview(context.Background(), req)
		assert.True(t, puberrors.IsInvalidInput(err))

		req = h.request("")
		req.Store.Bucket = "No_Such"
		_, err = h.engine.Preview(context.Background(), req)
		assert.True(t, puberrors.IsInvalidInput(err))
	})

	t.Run("lock released after failure", func(t *testing.T) {
		h := newHarness(t)
		h.store.ListErr = errors.New("boom")
		_, err := h.engine.Preview(context.Background(), h.request(""))
		require.Error(t, err)

		h.store.ListErr = nil
		h.preview("")
	})
}

func TestEngine_Validate(t *testing.T) {
	h := newHarness(t)
	params := h.request("").Store
	require.NoError(t, h.engine.Validate(context.Background(), params))

	h.store.ListErr = puberrors.ErrAccessDenied
	assert.ErrorIs(t, h.engine.Validate(context.Background(), params), puberrors.ErrAccessDenied)
}
