package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/tg-grabber/internal/config"
	"github.com/you/tg-grabber/internal/guard"
	"github.com/you/tg-grabber/internal/media"
	"github.com/you/tg-grabber/internal/planner"
	"github.com/you/tg-grabber/internal/resolver"
	"github.com/you/tg-grabber/internal/workspace"
)

type fakeResolver struct {
	desc  *media.SourceDescriptor
	err   error
	calls int
}

func (f *fakeResolver) Resolve(context.Context, string) (*media.SourceDescriptor, error) {
	f.calls++
	return f.desc, f.err
}

type fakeFetcher struct{ size int64 }

func (f *fakeFetcher) Fetch(_ context.Context, _, destPath string, _ int64) (media.Artifact, error) {
	if err := os.WriteFile(destPath, make([]byte, f.size), 0o644); err != nil {
		return media.Artifact{}, err
	}
	return media.Artifact{Path: destPath, SizeBytes: f.size, Kind: media.KindVideo}, nil
}

type fakePlanner struct{ routes []planner.Route }

func (f *fakePlanner) Execute(_ context.Context, ws *workspace.Workspace, art media.Artifact, _ float64) ([]planner.Item, error) {
	items := make([]planner.Item, 0, len(f.routes))
	for i, r := range f.routes {
		p := art.Path
		if i > 0 {
			p = ws.Path("extra.mp4")
			if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
				return nil, err
			}
		}
		items = append(items, planner.Item{
			Artifact: media.Artifact{Path: p, SizeBytes: 1, Kind: media.KindVideo},
			Route:    r,
		})
	}
	return items, nil
}

type fakeSampler struct{ n int }

func (f *fakeSampler) Sample(_ context.Context, ws *workspace.Workspace, _ media.Artifact, _ int, _ float64) ([]media.Artifact, error) {
	var out []media.Artifact
	for i := 0; i < f.n; i++ {
		p := ws.Path("clip-" + string(rune('a'+i)) + ".mp4")
		if err := os.WriteFile(p, []byte("clip"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, media.Artifact{Path: p, SizeBytes: 4, Kind: media.KindClip})
	}
	return out, nil
}

type fakeQuota struct {
	charged   int
	downloads int
}

func (f *fakeQuota) Charge(_ context.Context, _ int64, n int) error { f.charged += n; return nil }
func (f *fakeQuota) CountDownload(context.Context, int64) error     { f.downloads++; return nil }

type fakeProbe struct{ duration float64 }

func (f *fakeProbe) ProbeDuration(context.Context, string) (float64, error) { return f.duration, nil }

func (f *fakeProbe) EncodeBitrate(context.Context, string, string, int) error { return nil }

func (f *fakeProbe) Trim(context.Context, string, string, float64, float64) error { return nil }

func (f *fakeProbe) SegmentCopy(context.Context, string, string, float64) error { return nil }

func (f *fakeProbe) Readable(context.Context, string) error { return nil }

func testDesc() *media.SourceDescriptor {
	return &media.SourceDescriptor{
		SourceURL:         "https://example.com/v",
		ResolvedStreamURL: "https://cdn.example.com/v.mp4",
		Title:             "Some Video!",
		ContainerExt:      "mp4",
		DurationSeconds:   120,
	}
}

func testPipeline(t *testing.T, d Deps) (*Pipeline, config.Config) {
	t.Helper()
	cfg := config.Load()
	cfg.DataDir = t.TempDir()
	cfg.FetchTimeout = 10 * time.Second
	d.Cfg = cfg
	if d.Guard == nil {
		d.Guard = guard.New()
	}
	if d.Quota == nil {
		d.Quota = &fakeQuota{}
	}
	if d.Toolchain == nil {
		d.Toolchain = &fakeProbe{duration: 120}
	}
	return New(d), cfg
}

func TestResolveAndDeliverHappyPath(t *testing.T) {
	q := &fakeQuota{}
	p, cfg := testPipeline(t, Deps{
		Resolver: &fakeResolver{desc: testDesc()},
		Fetcher:  &fakeFetcher{size: 100},
		Planner:  &fakePlanner{routes: []planner.Route{planner.RouteInline}},
		Quota:    q,
	})

	var stages []string
	d, err := p.ResolveAndDeliver(context.Background(), "https://example.com/v", 7, func(s string) {
		stages = append(stages, s)
	})
	require.NoError(t, err)
	defer d.Discard(context.Background())

	assert.Equal(t, []string{"extracting", "downloading", "processing"}, stages)
	assert.Equal(t, "Some Video!", d.Title)
	assert.Equal(t, "some-video.mp4", d.SuggestedName)
	require.Len(t, d.Items, 1)
	assert.FileExists(t, d.Items[0].Artifact.Path)
	assert.Contains(t, d.Items[0].Artifact.Path, "handoff")
	assert.Equal(t, 1, q.charged)
	assert.Equal(t, 1, q.downloads)

	// Workspace must be gone; only the handoff dir survives.
	entries, err := os.ReadDir(cfg.DataDir + "/work")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolveAndDeliverBusy(t *testing.T) {
	r := &fakeResolver{desc: testDesc()}
	g := guard.New()
	p, _ := testPipeline(t, Deps{
		Resolver: r,
		Fetcher:  &fakeFetcher{size: 100},
		Planner:  &fakePlanner{routes: []planner.Route{planner.RouteInline}},
		Guard:    g,
	})

	require.True(t, g.TryAcquire(7))
	_, err := p.ResolveAndDeliver(context.Background(), "https://example.com/v", 7, nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, r.calls, "no work may start while the requester is busy")

	g.Release(7)
	d, err := p.ResolveAndDeliver(context.Background(), "https://example.com/v", 7, nil)
	require.NoError(t, err)
	d.Discard(context.Background())
}

func TestResolveFailureReleasesGuard(t *testing.T) {
	r := &fakeResolver{err: resolver.ErrAllStrategiesFailed}
	g := guard.New()
	p, _ := testPipeline(t, Deps{
		Resolver: r,
		Fetcher:  &fakeFetcher{size: 100},
		Planner:  &fakePlanner{routes: []planner.Route{planner.RouteInline}},
		Guard:    g,
	})

	_, err := p.ResolveAndDeliver(context.Background(), "https://example.com/v", 7, nil)
	assert.ErrorIs(t, err, resolver.ErrAllStrategiesFailed)
	assert.True(t, g.TryAcquire(7), "guard must be released on failure")
}

func TestSampleClipsHandoff(t *testing.T) {
	q := &fakeQuota{}
	p, _ := testPipeline(t, Deps{
		Fetcher: &fakeFetcher{size: 100},
		Sampler: &fakeSampler{n: 2},
		Quota:   q,
	})

	d, err := p.SampleClips(context.Background(), "https://api.example.com/file/abc", 9, nil)
	require.NoError(t, err)
	defer d.Discard(context.Background())

	require.Len(t, d.Items, 2)
	for _, it := range d.Items {
		assert.Equal(t, planner.RouteInline, it.Route)
		assert.FileExists(t, it.Artifact.Path)
	}
	assert.Equal(t, 2, q.charged)
}

func TestSampleClipsEmptyIsNormal(t *testing.T) {
	q := &fakeQuota{}
	p, _ := testPipeline(t, Deps{
		Fetcher: &fakeFetcher{size: 100},
		Sampler: &fakeSampler{n: 0},
		Quota:   q,
	})

	d, err := p.SampleClips(context.Background(), "https://api.example.com/file/abc", 9, nil)
	require.NoError(t, err)

	assert.Empty(t, d.Items)
	assert.Zero(t, q.charged)
}

func TestDiscardRemovesHandoff(t *testing.T) {
	p, _ := testPipeline(t, Deps{
		Resolver: &fakeResolver{desc: testDesc()},
		Fetcher:  &fakeFetcher{size: 100},
		Planner:  &fakePlanner{routes: []planner.Route{planner.RouteInline, planner.RouteTransfer}},
	})

	d, err := p.ResolveAndDeliver(context.Background(), "https://example.com/v", 7, nil)
	require.NoError(t, err)
	require.Len(t, d.Items, 2)

	d.Discard(context.Background())
	assert.NoDirExists(t, d.HandoffDir)
}

func TestSuggestName(t *testing.T) {
	cases := []struct {
		title, ext, want string
	}{
		{"Some Video!", "mp4", "some-video.mp4"},
		{"  --- ", "mp4", "video.mp4"},
		{"Mixed CASE 42", "", "mixed-case-42.mp4"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, suggestName(tc.title, tc.ext))
	}
}
