package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slotView struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

func TestAvailability_Backends(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backends := map[string]Cache{
		"redis":  NewRedisCache(client),
		"memory": NewMemoryCache(nil),
	}

	logger := zerolog.New(io.Discard)
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	nextDay := day.AddDate(0, 0, 1)

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			av := NewAvailability(backend, time.Minute, &logger)

			gen, ok := av.Generation(ctx, 1, day)
			require.True(t, ok)
			assert.Equal(t, "g0.0", gen)

			k2 := Key(1, day, gen, 2, 90)
			k4 := Key(1, day, gen, 4, 120)
			nextGen, _ := av.Generation(ctx, 1, nextDay)
			other := Key(1, nextDay, nextGen, 2, 90)
			assert.Equal(t, "availability:1:2026-04-02:g0.0:2:90", k2)

			var got []slotView
			assert.False(t, av.Load(ctx, k2, &got))

			want := []slotView{{Time: "18:00", Available: true}}
			av.Store(ctx, k2, want)
			av.Store(ctx, k4, want)
			av.Store(ctx, other, want)

			require.True(t, av.Load(ctx, k2, &got))
			assert.Equal(t, want, got)

			av.Invalidate(ctx, 1, day)

			assert.False(t, av.Load(ctx, k2, &got))
			assert.False(t, av.Load(ctx, k4, &got))
			assert.True(t, av.Load(ctx, other, &got), "other dates survive")
			gen, _ = av.Generation(ctx, 1, day)
			assert.Equal(t, "g0.1", gen)
			next, _ := av.Generation(ctx, 1, nextDay)
			assert.Equal(t, nextGen, next)

			neighbourGen, _ := av.Generation(ctx, 12, day)
			neighbour := Key(12, day, neighbourGen, 2, 90)
			av.Store(ctx, neighbour, want)
			av.InvalidateRestaurant(ctx, 1)
			assert.False(t, av.Load(ctx, other, &got))
			assert.True(t, av.Load(ctx, neighbour, &got), "restaurant 12 is not restaurant 1")
			next, _ = av.Generation(ctx, 1, nextDay)
			assert.Equal(t, "g1.0", next)
		})
	}
}

func TestAvailability_StoreAfterInvalidateIsNeverServed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backends := map[string]Cache{
		"redis":  NewRedisCache(client),
		"memory": NewMemoryCache(nil),
	}
	logger := zerolog.New(io.Discard)
	day := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			av := NewAvailability(backend, time.Minute, &logger)

			// a reader computes its answer while a writer commits and invalidates
			readGen, ok := av.Generation(ctx, 1, day)
			require.True(t, ok)
			av.Invalidate(ctx, 1, day)
			av.Store(ctx, Key(1, day, readGen, 2, 90), []slotView{{Time: "19:00", Available: true}})

			gen, ok := av.Generation(ctx, 1, day)
			require.True(t, ok)
			assert.NotEqual(t, readGen, gen)
			var got []slotView
			assert.False(t, av.Load(ctx, Key(1, day, gen, 2, 90), &got))
		})
	}
}

func TestMemoryCache_Incr(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(func() time.Time { return now })

	n, err := c.Incr(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.Incr(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	now = now.Add(24 * time.Hour)
	v, ok, err := c.Get(ctx, "gen")
	require.NoError(t, err)
	assert.True(t, ok, "counters do not expire")
	assert.Equal(t, "2", v)

	require.NoError(t, c.SetEX(ctx, "word", "x", time.Minute))
	_, err = c.Incr(ctx, "word")
	assert.Error(t, err)
}

func TestAvailability_Disabled(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	var nilCache *Availability
	var out []slotView
	assert.False(t, nilCache.Load(ctx, "k", &out))
	nilCache.Store(ctx, "k", out)
	nilCache.Invalidate(ctx, 1, time.Now())

	av := NewAvailability(nil, time.Minute, &logger)
	av.Store(ctx, "k", []slotView{{Time: "12:00"}})
	assert.False(t, av.Load(ctx, "k", &out))
}

func TestAvailability_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	logger := zerolog.New(io.Discard)
	av := NewAvailability(NewRedisCache(client), time.Minute, &logger)
	ctx := context.Background()

	var out []slotView
	av.Store(ctx, "k", []slotView{{Time: "12:00"}})
	assert.False(t, av.Load(ctx, "k", &out), "an unreachable cache degrades to a miss")
	av.Invalidate(ctx, 1, time.Now())
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(func() time.Time { return now })

	require.NoError(t, c.SetEX(ctx, "a", "1", time.Second))
	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(2 * time.Second)
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}
