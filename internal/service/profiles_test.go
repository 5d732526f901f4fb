package service

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamegiraffe/internal/flamegraph"
	"github.com/flamegiraffe/internal/mock"
	"github.com/flamegiraffe/internal/storage"
	apperrors "github.com/flamegiraffe/pkg/errors"
	"github.com/flamegiraffe/pkg/utils"
)

const sample = "main;serve;handle 60\nmain;serve;gc 20\nmain;init 20\n"

func newTestService(t *testing.T, mutate func(*Options)) (*FlameGraphService, *storage.LocalStorage) {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.CacheSize = 8
	if mutate != nil {
		mutate(&opts)
	}
	svc, err := NewFlameGraphService(opts, st, &utils.NullLogger{})
	require.NoError(t, err)
	return svc, st
}

func TestNewFlameGraphService_InvalidCacheSize(t *testing.T) {
	_, err := NewFlameGraphService(Options{CacheSize: 0}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestFlameGraphService_Parse(t *testing.T) {
	svc, _ := newTestService(t, nil)

	p, err := svc.Parse(context.Background(), strings.NewReader(sample+"garbage\n"), "upload")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "upload", p.Source)
	assert.Equal(t, int64(100), p.Graph.TotalSamples)
	assert.Equal(t, 3, p.Graph.MaxDepth)
	assert.Equal(t, 1, p.Stats.Skipped)

	got, err := svc.Get(p.ID)
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, 1, svc.Len())

	sum := p.Summary()
	assert.Equal(t, p.ID, sum.ID)
	assert.Equal(t, int64(100), sum.TotalSamples)
	assert.Equal(t, 6, sum.NodeCount)
}

func TestFlameGraphService_ParseLogsToContextLogger(t *testing.T) {
	svc, _ := newTestService(t, nil)
	var buf bytes.Buffer
	ctx := utils.ContextWithLogger(context.Background(),
		utils.NewDefaultLogger(utils.LevelInfo, &buf).WithField("request", "r-42"))

	_, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "profile registered")
	assert.Contains(t, buf.String(), "request=r-42")
}

func TestFlameGraphService_ParseUniqueIDs(t *testing.T) {
	svc, _ := newTestService(t, nil)

	a, err := svc.Parse(context.Background(), strings.NewReader(sample), "")
	require.NoError(t, err)
	b, err := svc.Parse(context.Background(), strings.NewReader(sample), "")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, svc.Len())
}

func TestFlameGraphService_ParseEmpty(t *testing.T) {
	svc, _ := newTestService(t, nil)

	for _, text := range []string{"", "garbage\n", "a;b 0\n"} {
		_, err := svc.Parse(context.Background(), strings.NewReader(text), "")
		require.Error(t, err, text)
		assert.Equal(t, apperrors.CodeEmptyProfile, apperrors.GetErrorCode(err))
	}
	assert.Equal(t, 0, svc.Len())
}

func TestFlameGraphService_ParseStrict(t *testing.T) {
	svc, _ := newTestService(t, func(o *Options) { o.Strict = true })

	_, err := svc.Parse(context.Background(), strings.NewReader(sample+"garbage\n"), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsParseError(err))
}

func TestFlameGraphService_GetMissing(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Get("nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFlameGraphService_Eviction(t *testing.T) {
	svc, _ := newTestService(t, func(o *Options) { o.CacheSize = 2 })
	ctx := context.Background()

	first, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)
	second, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	// Touch the first so the second becomes least recently used.
	_, err = svc.Get(first.ID)
	require.NoError(t, err)

	third, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	assert.Equal(t, 2, svc.Len())
	_, err = svc.Get(second.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = svc.Get(first.ID)
	assert.NoError(t, err)
	_, err = svc.Get(third.ID)
	assert.NoError(t, err)
}

func TestFlameGraphService_Forget(t *testing.T) {
	svc, _ := newTestService(t, nil)
	p, err := svc.Parse(context.Background(), strings.NewReader(sample), "")
	require.NoError(t, err)

	assert.True(t, svc.Forget(p.ID))
	assert.False(t, svc.Forget(p.ID))
	_, err = svc.Get(p.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFlameGraphService_List(t *testing.T) {
	svc, _ := newTestService(t, nil)
	clock := utils.NewManualClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	svc.clock = clock
	ctx := context.Background()

	older, err := svc.Parse(ctx, strings.NewReader(sample), "older")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	newer, err := svc.Parse(ctx, strings.NewReader(sample), "newer")
	require.NoError(t, err)

	list := svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestFlameGraphService_LoadRemote(t *testing.T) {
	svc, st := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, st.Upload(ctx, "team/cpu.folded", bytes.NewReader([]byte(sample))))

	p, err := svc.Load(ctx, "cos://team/cpu.folded")
	require.NoError(t, err)
	assert.Equal(t, "cos://team/cpu.folded", p.Source)
	assert.Equal(t, int64(100), p.Graph.TotalSamples)

	again, err := svc.Load(ctx, "cos://team/cpu.folded")
	require.NoError(t, err)
	assert.Same(t, p, again, "cached ref is not read twice")

	// Once forgotten the ref is read again under a new ID.
	require.True(t, svc.Forget(p.ID))
	reloaded, err := svc.Load(ctx, "cos://team/cpu.folded")
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, reloaded.ID)
}

func TestFlameGraphService_LoadPrefix(t *testing.T) {
	svc, st := newTestService(t, func(o *Options) { o.Workers = 2 })
	ctx := context.Background()
	require.NoError(t, st.Upload(ctx, "hosts/a.folded", strings.NewReader("main;serve;handle 60\n")))
	require.NoError(t, st.Upload(ctx, "hosts/b.folded", strings.NewReader("main;serve;gc 20\nmain;init 20\n")))

	p, err := svc.Load(ctx, "cos://hosts/")
	require.NoError(t, err)
	assert.Equal(t, "cos://hosts/", p.Source)
	assert.Equal(t, int64(100), p.Graph.TotalSamples)
	assert.Equal(t, 3, p.Stats.Accepted)
	assert.Equal(t, int64(60), p.Graph.Root.FindStack("main;serve;handle").Value)

	again, err := svc.Load(ctx, "cos://hosts/")
	require.NoError(t, err)
	assert.Same(t, p, again)

	_, err = svc.Load(ctx, "cos://nothing/")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFlameGraphService_LoadLocal(t *testing.T) {
	svc, _ := newTestService(t, nil)
	path := filepath.Join(t.TempDir(), "cpu.folded")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	p, err := svc.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, p.Source)
}

func TestFlameGraphService_LoadErrors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Load(ctx, "cos://missing.folded")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Load(ctx, "")
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = svc.Load(ctx, "cos://")
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestFlameGraphService_LoadDownloadsOnce(t *testing.T) {
	st := &mock.MockStorage{}
	st.ExpectDownload("cpu.folded", sample).Once()

	svc, err := NewFlameGraphService(Options{CacheSize: 2}, st, nil)
	require.NoError(t, err)

	first, err := svc.Load(context.Background(), "cos://cpu.folded")
	require.NoError(t, err)
	second, err := svc.Load(context.Background(), "cos://cpu.folded")
	require.NoError(t, err)

	assert.Same(t, first, second)
	st.AssertExpectations(t)
	st.AssertNumberOfCalls(t, "Download", 1)
}

func TestFlameGraphService_LoadConcurrentSameRef(t *testing.T) {
	st := &mock.MockStorage{}
	st.ExpectDownload("cpu.folded", sample).WaitUntil(time.After(50 * time.Millisecond))

	svc, err := NewFlameGraphService(Options{CacheSize: 4}, st, nil)
	require.NoError(t, err)

	const callers = 16
	profiles := make([]*Profile, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = svc.Load(context.Background(), "cos://cpu.folded")
		}(i)
	}
	wg.Wait()

	for i := range profiles {
		require.NoError(t, errs[i])
		assert.Same(t, profiles[0], profiles[i])
	}
	assert.Equal(t, 1, svc.Len())
	st.AssertNumberOfCalls(t, "Download", 1)
}

func TestFlameGraphService_LoadDownloadError(t *testing.T) {
	st := &mock.MockStorage{}
	st.ExpectDownloadError("cpu.folded", apperrors.New(apperrors.CodeDownloadError, "connection reset"))

	svc, err := NewFlameGraphService(Options{CacheSize: 2}, st, nil)
	require.NoError(t, err)

	_, err = svc.Load(context.Background(), "cos://cpu.folded")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDownloadError, apperrors.GetErrorCode(err))
	assert.Equal(t, 0, svc.Len())
	st.AssertExpectations(t)
}

func TestFlameGraphService_Layout(t *testing.T) {
	svc, _ := newTestService(t, func(o *Options) {
		o.Width = 1000
		o.RowHeight = 10
		o.Orientation = flamegraph.OrientationIcicle
	})
	ctx := context.Background()
	p, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	res, err := svc.Layout(ctx, p.ID, LayoutRequest{})
	require.NoError(t, err)

	assert.Equal(t, p.ID, res.ProfileID)
	assert.Equal(t, []string{}, res.Focus)
	assert.Equal(t, 1000.0, res.Width)
	assert.Equal(t, 40.0, res.Height)
	assert.Equal(t, flamegraph.OrientationIcicle, res.Orientation)
	require.Len(t, res.Frames, 6)

	root := res.Frames[0]
	assert.Equal(t, Frame{X: 0, Y: 0, Width: 1000, Height: 10, Depth: 0, Name: "root", Value: 100, Self: 0, Percent: 100}, root)

	handle := res.Frames[5]
	assert.Equal(t, "handle", handle.Name)
	assert.InDelta(t, 400.0, handle.X, 1e-9)
	assert.InDelta(t, 600.0, handle.Width, 1e-9)
	assert.Equal(t, 30.0, handle.Y)
	assert.Equal(t, int64(60), handle.Self)
	assert.InDelta(t, 60.0, handle.Percent, 1e-9)
}

func TestFlameGraphService_LayoutFocus(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	p, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	res, err := svc.Layout(ctx, p.ID, LayoutRequest{Focus: "main;serve", Width: 800, RowHeight: 20, Orientation: flamegraph.OrientationFlame})
	require.NoError(t, err)

	assert.Equal(t, []string{"main", "serve"}, res.Focus)
	assert.Equal(t, 40.0, res.Height)
	require.Len(t, res.Frames, 3)

	serve := res.Frames[0]
	assert.Equal(t, "serve", serve.Name)
	assert.Equal(t, 800.0, serve.Width)
	assert.Equal(t, 20.0, serve.Y, "flame orientation puts the focus row at the bottom")
	assert.InDelta(t, 80.0, serve.Percent, 1e-9)

	gc := res.Frames[1]
	assert.Equal(t, "gc", gc.Name)
	assert.InDelta(t, 200.0, gc.Width, 1e-9)
	assert.Equal(t, 0.0, gc.Y)
}

func TestFlameGraphService_LayoutErrors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	p, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	_, err = svc.Layout(ctx, "missing", LayoutRequest{})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Layout(ctx, p.ID, LayoutRequest{Focus: "main;nope"})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Layout(ctx, p.ID, LayoutRequest{Width: -5})
	assert.True(t, apperrors.IsInvalidInput(err))

	for _, req := range []LayoutRequest{
		{Width: math.NaN()},
		{Width: math.Inf(1)},
		{RowHeight: math.NaN()},
		{RowHeight: math.Inf(1)},
	} {
		_, err = svc.Layout(ctx, p.ID, req)
		assert.True(t, apperrors.IsInvalidInput(err), "%+v", req)
	}
}

func TestFlameGraphService_Top(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	p, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	top, err := svc.Top(ctx, p.ID, TopRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(100), top.TotalSamples)
	require.Len(t, top.Frames, 5)
	assert.Equal(t, "handle", top.Frames[0].Name)
	assert.Equal(t, int64(60), top.Frames[0].Self)
	assert.Equal(t, "gc", top.Frames[1].Name)
	assert.Equal(t, "init", top.Frames[2].Name)

	top, err = svc.Top(ctx, p.ID, TopRequest{N: 1, SortBy: "total", Stacks: 2})
	require.NoError(t, err)
	require.Len(t, top.Frames, 1)
	assert.Equal(t, "main", top.Frames[0].Name)
	assert.Equal(t, 100.0, top.Frames[0].TotalPercent)
	assert.Empty(t, top.Frames[0].CallStacks)

	top, err = svc.Top(ctx, p.ID, TopRequest{Focus: "main;serve", Stacks: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(80), top.TotalSamples)
	require.Len(t, top.Frames, 2)
	assert.Equal(t, "handle", top.Frames[0].Name)
	assert.Equal(t, 75.0, top.Frames[0].SelfPercent)
	assert.Equal(t, "main;serve;handle", top.Frames[0].CallStacks[0].Stack)
}

func TestFlameGraphService_TopErrors(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	p, err := svc.Parse(ctx, strings.NewReader(sample), "")
	require.NoError(t, err)

	_, err = svc.Top(ctx, "missing", TopRequest{})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Top(ctx, p.ID, TopRequest{Focus: "nope"})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Top(ctx, p.ID, TopRequest{SortBy: "name"})
	assert.True(t, apperrors.IsInvalidInput(err))

	_, err = svc.Top(ctx, p.ID, TopRequest{N: -1})
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestOptionsFromConfig(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 32, opts.CacheSize)
	assert.Equal(t, 1200.0, opts.Width)
	assert.Equal(t, 16.0, opts.RowHeight)
	assert.Equal(t, 1.0, opts.MinWidth)
	assert.Equal(t, flamegraph.OrientationFlame, opts.Orientation)
	assert.False(t, opts.Strict)
}
