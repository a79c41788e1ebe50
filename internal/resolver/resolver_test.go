package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(run runFunc) *Resolver {
	r := New("yt-dlp", 10*time.Second)
	r.run = run
	return r
}

func infoJSON() []byte {
	return []byte(`{
		"title": "A Video",
		"url": "https://cdn.example.com/v.mp4",
		"ext": "MP4",
		"duration": 120.5,
		"filesize": 0,
		"filesize_approx": 83886080,
		"width": 1280,
		"height": 720,
		"thumbnail": "https://cdn.example.com/t.jpg"
	}`)
}

func TestResolveFirstStrategyWins(t *testing.T) {
	var formats []string
	r := testResolver(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		formats = append(formats, args[4]) // value after -f
		return infoJSON(), nil
	})

	d, err := r.Resolve(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)

	assert.Equal(t, []string{"best[ext=mp4][vcodec!=none][acodec!=none]"}, formats)
	assert.Equal(t, "progressive-mp4", d.Strategy)
	assert.Equal(t, "A Video", d.Title)
	assert.Equal(t, "https://cdn.example.com/v.mp4", d.ResolvedStreamURL)
	assert.Equal(t, "mp4", d.ContainerExt)
	assert.Equal(t, int64(83886080), d.NominalSizeBytes) // approx used when filesize is 0
	assert.Equal(t, 120.5, d.DurationSeconds)
}

func TestResolveFallsThroughSoftFailures(t *testing.T) {
	calls := 0
	r := testResolver(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		calls++
		switch calls {
		case 1:
			return nil, errors.New("exit status 1")
		case 2:
			return []byte(`{"title":"no stream url"}`), nil
		default:
			return infoJSON(), nil
		}
	})

	d, err := r.Resolve(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "worst", d.Strategy)
}

func TestResolveAllStrategiesFailed(t *testing.T) {
	r := testResolver(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})

	_, err := r.Resolve(context.Background(), "https://example.com/v")
	assert.ErrorIs(t, err, ErrAllStrategiesFailed)
}

func TestResolveUnparsableJSONIsSoftFailure(t *testing.T) {
	calls := 0
	r := testResolver(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte("not json"), nil
		}
		return infoJSON(), nil
	})

	d, err := r.Resolve(context.Background(), "https://example.com/v")
	require.NoError(t, err)
	assert.Equal(t, "best-any", d.Strategy)
}
