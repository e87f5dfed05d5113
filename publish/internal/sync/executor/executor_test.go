package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	puberrors "github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/manifest"
	"github.com/cruskit/afterglow-manager/publish/internal/sync/planner"
	"github.com/cruskit/afterglow-manager/publish/internal/testutil"
	"github.com/cruskit/afterglow-manager/publish/internal/thumbnail"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

const prefix = "galleries/"

// fixture builds the sunset workspace and a plan against store.
func fixture(t *testing.T, store *testutil.MemStore) (*testutil.Workspace, *pubtypes.Plan) {
	t.Helper()
	ctx := context.Background()
	ws := testutil.SunsetWorkspace(testutil.NewMemWorkspace(t))

	resolved, err := manifest.NewResolver(ws.FS, prefix).Resolve(ctx)
	require.NoError(t, err)
	staged, err := thumbnail.NewStage(ws.FS, prefix).Run(ctx, resolved.Files)
	require.NoError(t, err)
	plan, err := planner.NewPlanner(ws.FS, store).Plan(ctx, staged.Files, prefix)
	require.NoError(t, err)
	plan.Store.Prefix = prefix
	return ws, plan
}

func collect(events *[]pubtypes.ProgressEvent) ProgressFunc {
	return func(ev pubtypes.ProgressEvent) { *events = append(*events, ev) }
}

func TestRun_Complete(t *testing.T) {
	store := testutil.NewMemStore().Seed("galleries/orphan.jpg", []byte("x"))
	ws, plan := fixture(t, store)
	require.Len(t, plan.ToUpload, 6)
	require.Equal(t, []string{"galleries/orphan.jpg"}, plan.ToDelete)

	var events []pubtypes.ProgressEvent
	ex := NewExecutor(ws.FS, store)
	assert.Equal(t, StateIdle, ex.State())

	res := ex.Run(context.Background(), plan, NewCancelToken(), collect(&events))
	require.NoError(t, res.Err)
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, StateComplete, ex.State())
	assert.Equal(t, 6, res.Uploaded)
	assert.Equal(t, 1, res.Deleted)

	require.Len(t, events, 7)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Current)
		assert.Equal(t, 7, ev.Total)
	}
	assert.Equal(t, pubtypes.ActionUpload, events[0].Action)
	assert.Equal(t, "galleries/galleries.json", events[0].File)
	assert.Equal(t, pubtypes.ActionDelete, events[6].Action)

	assert.Equal(t, store.Puts, []string{
		"galleries/galleries.json",
		"galleries/sunset/.thumbs/01.jpg",
		"galleries/sunset/gallery-details.json",
		"galleries/sunset/01.jpg",
		"galleries/sunset/.thumbs/02.jpg",
		"galleries/sunset/02.jpg",
	})
	assert.NotContains(t, store.Keys(), "galleries/orphan.jpg")

	obj, ok := store.Get("galleries/galleries.json")
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.ContentType)
}

func TestRun_CancelAtActionBoundary(t *testing.T) {
	store := testutil.NewMemStore()
	ws, plan := fixture(t, store)

	token := NewCancelToken()
	store.AfterPut = func(string) {
		if len(store.Puts) == 3 {
			token.Cancel()
		}
	}

	var events []pubtypes.ProgressEvent
	res := NewExecutor(ws.FS, store).Run(context.Background(), plan, token, collect(&events))

	assert.Equal(t, StateCancelled, res.State)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Len(t, events, 3)

	objects, err := store.List(context.Background(), prefix)
	require.NoError(t, err)
	assert.Len(t, objects, 3)

	// A later cancel is a no-op.
	token.Cancel()
	assert.True(t, token.Cancelled())
}

func TestRun_CancelBeforeFirstAction(t *testing.T) {
	store := testutil.NewMemStore()
	ws, plan := fixture(t, store)

	token := NewCancelToken()
	token.Cancel()
	res := NewExecutor(ws.FS, store).Run(context.Background(), plan, token, nil)
	assert.Equal(t, StateCancelled, res.State)
	assert.Zero(t, res.Applied())
	assert.Empty(t, store.Keys())
}

func TestRun_ContextCancelled(t *testing.T) {
	store := testutil.NewMemStore()
	ws, plan := fixture(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	store.AfterPut = func(string) { cancel() }

	res := NewExecutor(ws.FS, store).Run(ctx, plan, nil, nil)
	assert.Equal(t, StateCancelled, res.State)
	assert.Equal(t, 1, res.Uploaded)
}

func TestRun_FailureAborts(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(ws *testutil.Workspace, store *testutil.MemStore, plan *pubtypes.Plan)
		wantSentinel error
		wantFile     string
		wantUploaded int
		wantDeleted  int
		wantMessage  string
	}{
		{
			name: "upload rejected",
			setup: func(_ *testutil.Workspace, store *testutil.MemStore, _ *pubtypes.Plan) {
				store.BeforePut = func(key string) error {
					if key == "galleries/sunset/01.jpg" {
						return errors.New("SlowDown")
					}
					return nil
				}
			},
			wantSentinel: puberrors.ErrUpload,
			wantFile:     "sunset/01.jpg",
			wantUploaded: 3,
			wantMessage:  "SlowDown",
		},
		{
			name: "file changed since preview",
			setup: func(ws *testutil.Workspace, _ *testutil.MemStore, _ *pubtypes.Plan) {
				ws.WriteFile("sunset/gallery-details.json", []byte(`{"edited":true}`))
			},
			wantSentinel: puberrors.ErrUpload,
			wantFile:     "sunset/gallery-details.json",
			wantUploaded: 2,
			wantMessage:  "changed since preview",
		},
		{
			name: "file removed since preview",
			setup: func(ws *testutil.Workspace, _ *testutil.MemStore, _ *pubtypes.Plan) {
				ws.Remove("galleries.json")
			},
			wantSentinel: puberrors.ErrUpload,
			wantFile:     "galleries.json",
		},
		{
			name: "delete rejected",
			setup: func(_ *testutil.Workspace, store *testutil.MemStore, plan *pubtypes.Plan) {
				plan.ToDelete = []string{"galleries/a.jpg", "galleries/b.jpg"}
				store.BeforeDelete = func(key string) error {
					if key == "galleries/b.jpg" {
						return errors.New("AccessDenied")
					}
					return nil
				}
			},
			wantSentinel: puberrors.ErrDelete,
			wantFile:     "galleries/b.jpg",
			wantUploaded: 6,
			wantDeleted:  1,
			wantMessage:  "AccessDenied",
		},
		{
			name: "delete outside prefix",
			setup: func(_ *testutil.Workspace, _ *testutil.MemStore, plan *pubtypes.Plan) {
				plan.ToDelete = []string{"index.html"}
			},
			wantSentinel: puberrors.ErrDelete,
			wantFile:     "index.html",
			wantUploaded: 6,
			wantMessage:  "outside prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMemStore()
			ws, plan := fixture(t, store)
			tt.setup(ws, store, plan)

			var events []pubtypes.ProgressEvent
			res := NewExecutor(ws.FS, store).Run(context.Background(), plan, NewCancelToken(), collect(&events))

			assert.Equal(t, StateError, res.State)
			require.Error(t, res.Err)
			assert.ErrorIs(t, res.Err, tt.wantSentinel)
			assert.Equal(t, tt.wantFile, res.File)
			assert.Equal(t, tt.wantFile, puberrors.FileOf(res.Err))
			assert.Equal(t, tt.wantUploaded, res.Uploaded)
			assert.Equal(t, tt.wantDeleted, res.Deleted)
			if tt.wantMessage != "" {
				assert.ErrorContains(t, res.Err, tt.wantMessage)
			}
			assert.Len(t, events, res.Applied()+1, "the failing action still reports progress")
		})
	}
}

func TestRun_NotReusable(t *testing.T) {
	store := testutil.NewMemStore()
	ws, plan := fixture(t, store)

	ex := NewExecutor(ws.FS, store)
	require.Equal(t, StateComplete, ex.Run(context.Background(), plan, nil, nil).State)

	res := ex.Run(context.Background(), plan, nil, nil)
	assert.Equal(t, StateError, res.State)
	assert.True(t, puberrors.IsBusy(res.Err))
	assert.Equal(t, StateComplete, ex.State())
}

func TestRun_RateLimited(t *testing.T) {
	store := testutil.NewMemStore()
	ws, plan := fixture(t, store)

	ex := NewExecutor(ws.FS, store, WithRateLimiter(rate.NewLimiter(rate.Inf, 1)))
	res := ex.Run(context.Background(), plan, nil, nil)
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, 6, res.Uploaded)
}

func TestRun_EmptyPlan(t *testing.T) {
	res := NewExecutor(testutil.NewMemWorkspace(t).FS, testutil.NewMemStore()).
		Run(context.Background(), &pubtypes.Plan{}, nil, nil)
	assert.Equal(t, StateComplete, res.State)
	assert.Zero(t, res.Applied())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.True(t, StateError.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.Equal(t, "State(9)", State(9).String())
}
