package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/CourierHub/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestNotifyMinuteKey(t *testing.T) {
	at := time.Date(2026, 8, 31, 15, 4, 59, 0, time.UTC)
	require.Equal(t, "notify:courier:7:202608311504", NotifyMinuteKey(7, at))

	// Та же минута — тот же ключ, следующая — уже другой.
	require.Equal(t, NotifyMinuteKey(7, at), NotifyMinuteKey(7, at.Add(-30*time.Second)))
	require.NotEqual(t, NotifyMinuteKey(7, at), NotifyMinuteKey(7, at.Add(time.Second)))
	require.NotEqual(t, NotifyMinuteKey(7, at), NotifyMinuteKey(8, at))
}

func TestLiveLocations_WriteGet(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLiveLocations(mr.Addr(), time.Minute)

	ctx := context.Background()
	sample := models.LocationSample{
		Location: models.Coordinate{Lat: 12.9716, Lng: 77.5946},
		At:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, l.Write(ctx, 7, sample))

	got, ok, err := l.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sample.Location, got.Location)

	_, ok, err = l.Get(ctx, 8)
	require.NoError(t, err)
	require.False(t, ok)
}
