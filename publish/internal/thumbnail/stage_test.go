package thumbnail

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	puberrors "github.com/cruskit/afterglow-manager/publish/errors"
	"github.com/cruskit/afterglow-manager/publish/internal/manifest"
	"github.com/cruskit/afterglow-manager/publish/internal/testutil"
	"github.com/cruskit/afterglow-manager/publish/pubtypes"
)

const prefix = "galleries/"

func resolve(t *testing.T, ws *testutil.Workspace) []pubtypes.ReachableFile {
	t.Helper()
	result, err := manifest.NewResolver(ws.FS, prefix).Resolve(context.Background())
	require.NoError(t, err)
	return result.Files
}

func keys(files []pubtypes.ReachableFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RemoteKey
	}
	return out
}

func TestRun_RewritesCoverAndThumbnails(t *testing.T) {
	ws := testutil.SunsetWorkspace(testutil.NewMemWorkspace(t))

	var events []pubtypes.ThumbnailProgress
	stage := NewStage(ws.FS, prefix, WithProgress(func(p pubtypes.ThumbnailProgress) {
		events = append(events, p)
	}))

	result, err := stage.Run(context.Background(), resolve(t, ws))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"galleries/galleries.json",
		"galleries/sunset/.thumbs/01.jpg",
		"galleries/sunset/gallery-details.json",
		"galleries/sunset/01.jpg",
		"galleries/sunset/.thumbs/02.jpg",
		"galleries/sunset/02.jpg",
	}, keys(result.Files))
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{
		".data/thumbnails/sunset/01.jpg",
		".data/thumbnails/sunset/02.jpg",
	}, result.Generated)

	assert.Equal(t, ".data/thumbnails/sunset/01.jpg", result.Files[1].LocalPath)
	assert.Equal(t, pubtypes.KindCover, result.Files[1].Kind)

	require.Len(t, events, 2)
	assert.Equal(t, pubtypes.ThumbnailProgress{Current: 1, Total: 2, Filename: "01.jpg"}, events[0])
	assert.Equal(t, pubtypes.ThumbnailProgress{Current: 2, Total: 2, Filename: "02.jpg"}, events[1])

	data, err := util.ReadFile(ws.FS, ".data/thumbnails/sunset/01.jpg")
	require.NoError(t, err)
	w, h := testutil.DecodeSize(t, data)
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)

	_, err = ws.FS.Stat(".data/thumbnails/sunset/01.jpg.tmp")
	assert.Error(t, err, "temporary file must not survive")
}

func TestRun_NestedCoverKeepsFullParent(t *testing.T) {
	ws := testutil.NewMemWorkspace(t)
	ws.AddGallery("sunset", "sunset/covers/01.jpg", testutil.PhotoRef{Thumbnail: "01.jpg", Full: "01.jpg"})
	ws.WriteFile("sunset/covers/01.jpg", testutil.JPEGBytes(t, 1200, 900, 9))

	result, err := NewStage(ws.FS, prefix).Run(context.Background(), resolve(t, ws))
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	assert.ElementsMatch(t, []string{
		".data/thumbnails/sunset/covers/01.jpg",
		".data/thumbnails/sunset/01.jpg",
	}, result.Generated)
	assert.Contains(t, keys(result.Files), "galleries/sunset/covers/.thumbs/01.jpg")
	assert.Contains(t, keys(result.Files), "galleries/sunset/.thumbs/01.jpg")
}

func TestRun_NeverUpscales(t *testing.T) {
	ws := testutil.NewMemWorkspace(t)
	ws.AddGallery("small", "", testutil.PhotoRef{Thumbnail: "t.png", Full: "f.jpg"})
	ws.WriteFile("small/t.png", testutil.PNGBytes(t, 300, 500, 7))

	result, err := NewStage(ws.FS, prefix).Run(context.Background(), resolve(t, ws))
	require.NoError(t, err)
	require.Equal(t, []string{".data/thumbnails/small/t.jpg"}, result.Generated)

	data, err := util.ReadFile(ws.FS, ".data/thumbnails/small/t.jpg")
	require.NoError(t, err)
	w, h := testutil.DecodeSize(t, data)
	assert.Equal(t, 300, w)
	assert.Equal(t, 500, h)
}

func TestRun_UndecodableSourceFallsBack(t *testing.T) {
	ws := testutil.SunsetWorkspace(testutil.NewMemWorkspace(t))
	ws.WriteFile("sunset/02.jpg", []byte("definitely not a jpeg"))

	var events int
	result, err := NewStage(ws.FS, prefix, WithProgress(func(pubtypes.ThumbnailProgress) { events++ })).
		Run(context.Background(), resolve(t, ws))
	require.NoError(t, err)

	assert.Equal(t, 2, events, "failed files still report progress")
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, pubtypes.WarningThumbnailGeneration, result.Warnings[0].Kind)
	assert.Equal(t, "sunset/02.jpg", result.Warnings[0].Path)
	assert.Contains(t, result.Warnings[0].Message, "decode")

	assert.Equal(t, []string{
		"galleries/galleries.json",
		"galleries/sunset/.thumbs/01.jpg",
		"galleries/sunset/gallery-details.json",
		"galleries/sunset/01.jpg",
		"galleries/sunset/02.jpg",
	}, keys(result.Files))
	assert.Equal(t, pubtypes.KindThumbnail, result.Files[4].Kind, "original kept in place of the thumbnail")
}

func TestRun_StemCollision(t *testing.T) {
	ws := testutil.NewMemWorkspace(t)
	ws.AddGallery("mixed", "",
		testutil.PhotoRef{Thumbnail: "a.jpg", Full: "a.jpg"},
		testutil.PhotoRef{Thumbnail: "a.png", Full: "a.png"},
	)
	ws.WriteFile("mixed/a.png", testutil.PNGBytes(t, 20, 20, 3))

	result, err := NewStage(ws.FS, prefix).Run(context.Background(), resolve(t, ws))
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "mixed/a.png", result.Warnings[0].Path)
	assert.Contains(t, keys(result.Files), "galleries/mixed/.thumbs/a.jpg")
	assert.Contains(t, keys(result.Files), "galleries/mixed/a.png")
}

func TestRun_Staleness(t *testing.T) {
	ws := testutil.SunsetWorkspace(testutil.NewDiskWorkspace(t))
	files := resolve(t, ws)
	stage := NewStage(ws.FS, prefix)

	first, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, first.Generated, 2)

	old := time.Now().Add(-2 * time.Hour)
	for _, rel := range []string{
		"sunset/01.jpg", "sunset/02.jpg",
		".data/thumbnails/sunset/01.jpg", ".data/thumbnails/sunset/02.jpg",
	} {
		ws.Touch(rel, old)
	}

	second, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Empty(t, second.Generated, "unmodified sources never regenerate")
	assert.Len(t, second.Fresh, 2)

	ws.Touch("sunset/02.jpg", old.Add(time.Hour))

	third, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{".data/thumbnails/sunset/02.jpg"}, third.Generated)
	assert.True(t, ws.ModTime(".data/thumbnails/sunset/02.jpg").After(old.Add(time.Hour)))

	fourth, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Empty(t, fourth.Generated)
}

func TestRun_MissingDerivedIsStale(t *testing.T) {
	ws := testutil.SunsetWorkspace(testutil.NewDiskWorkspace(t))
	files := resolve(t, ws)
	stage := NewStage(ws.FS, prefix)

	_, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	ws.Remove(".data/thumbnails/sunset/01.jpg")

	result, err := stage.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{".data/thumbnails/sunset/01.jpg"}, result.Generated)
}

func TestSpec_Stale(t *testing.T) {
	now := time.Now()
	assert.True(t, Spec{SourceModifiedAt: now}.Stale())
	assert.True(t, Spec{SourceModifiedAt: now, DerivedModifiedAt: now.Add(-time.Second)}.Stale())
	assert.False(t, Spec{SourceModifiedAt: now, DerivedModifiedAt: now}.Stale())
	assert.False(t, Spec{SourceModifiedAt: now, DerivedModifiedAt: now.Add(time.Second)}.Stale())
}

func TestRun_CancelledContext(t *testing.T) {
	ws := testutil.SunsetWorkspace(testutil.NewMemWorkspace(t))
	files := resolve(t, ws)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStage(ws.FS, prefix).Run(ctx, files)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefresh_KeepsCause(t *testing.T) {
	ws := testutil.NewMemWorkspace(t)
	stage := NewStage(ws.FS, prefix)
	spec := stage.specFor("sunset/missing.jpg", "sunset")

	err := stage.refresh(&spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, puberrors.ErrThumbnailGeneration)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, "sunset/missing.jpg", puberrors.FileOf(err))
}
