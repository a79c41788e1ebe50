package quota

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, dailyMax int) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, dailyMax)
}

func TestRemainingStartsAtDailyMax(t *testing.T) {
	s := testStore(t, 200)

	rem, err := s.Remaining(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 200, rem)
}

func TestChargeReducesRemaining(t *testing.T) {
	s := testStore(t, 200)
	ctx := context.Background()

	require.NoError(t, s.Charge(ctx, 1, 150))

	rem, err := s.Remaining(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, rem)

	ok, rem, err := s.Allow(ctx, 1, 60)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 50, rem)
}

func TestRemainingNeverNegative(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()

	require.NoError(t, s.Charge(ctx, 1, 25))

	rem, err := s.Remaining(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rem)
}

func TestDownloadCounter(t *testing.T) {
	s := testStore(t, 10)
	ctx := context.Background()

	n, err := s.Downloads(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.CountDownload(ctx, 9))
	require.NoError(t, s.CountDownload(ctx, 9))

	n, err = s.Downloads(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
