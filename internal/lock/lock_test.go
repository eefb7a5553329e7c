package lock

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/errs"
	"tablebook/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func testLocker(store Store) *Locker {
	logger := zerolog.New(io.Discard)
	return NewLocker(store, Options{
		TTL:       5 * time.Second,
		Attempts:  3,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	}, &logger)
}

func TestStore_Contract(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(nil),
		"redis":  redisStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := store.Acquire(ctx, "k", string(rune('a'+i)), time.Minute)
					assert.NoError(t, err)
					if ok {
						atomic.AddInt32(&wins, 1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins, "exactly one concurrent acquire wins")

			ok, err := store.Acquire(ctx, "owned", "owner", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = store.Release(ctx, "owned", "stranger")
			require.NoError(t, err)
			assert.False(t, ok, "foreign token cannot release")

			ok, err = store.Extend(ctx, "owned", "stranger", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok, "foreign token cannot extend")

			ok, err = store.Extend(ctx, "owned", "owner", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.Release(ctx, "owned", "owner")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.Release(ctx, "owned", "owner")
			require.NoError(t, err)
			assert.False(t, ok, "second release is a no-op")
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(clock.Now)

	ok, _ := store.Acquire(ctx, "k", "first", time.Second)
	require.True(t, ok)
	ok, _ = store.Acquire(ctx, "k", "second", time.Second)
	assert.False(t, ok)

	clock.Advance(2 * time.Second)

	ok, _ = store.Extend(ctx, "k", "first", time.Second)
	assert.False(t, ok, "expired lease cannot be extended")

	ok, _ = store.Acquire(ctx, "k", "second", time.Second)
	assert.True(t, ok, "expired entry counts as absent")

	ok, _ = store.Release(ctx, "k", "first")
	assert.False(t, ok, "stale owner cannot release the new holder's lock")

	ok, _ = store.Acquire(ctx, "other", "x", time.Second)
	require.True(t, ok)
	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	ok, err := store.Acquire(ctx, "k", "first", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = store.Acquire(ctx, "k", "second", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Release(ctx, "k", "first")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "second", mustGet(t, mr, "k"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestLocker_ReleasesAfterFailure(t *testing.T) {
	ctx := context.Background()
	locker := testLocker(NewMemoryStore(nil))
	key := TableKey(4)

	calls := 0
	err := locker.Do(ctx, key, func(context.Context) error {
		calls++
		return errs.New(errs.KindNoTablesAvailable, "nothing free")
	})
	assert.True(t, errs.Is(err, errs.KindNoTablesAvailable))
	assert.Equal(t, 1, calls, "non-retryable errors are not retried")

	lease, err := locker.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, lease, "key is free right after the failed operation")
}

func TestLocker_ReleasesAfterPanic(t *testing.T) {
	ctx := context.Background()
	locker := testLocker(NewMemoryStore(nil))
	key := TableKey(1)

	assert.Panics(t, func() {
		_ = locker.Do(ctx, key, func(context.Context) error { panic("boom") })
	})

	lease, err := locker.TryAcquire(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, lease)
}

func TestLocker_RetriesRetryableErrors(t *testing.T) {
	ctx := context.Background()
	locker := testLocker(NewMemoryStore(nil))

	calls := 0
	got, err := WithLock(ctx, locker, TableKey(2), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errs.Retryable(errs.KindTableConflict, "taken")
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, 2, calls)

	calls = 0
	err = locker.Do(ctx, TableKey(2), func(context.Context) error {
		calls++
		return errs.Retryable(errs.KindTableConflict, "always taken")
	})
	assert.True(t, errs.Is(err, errs.KindTableConflict))
	assert.Equal(t, 3, calls, "retries stop at the attempt ceiling")
}

func TestLocker_Unavailable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	locker := testLocker(store)
	key := WaitlistKey(1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	ok, _ := store.Acquire(ctx, string(key), "someone-else", time.Minute)
	require.True(t, ok)

	called := false
	err := locker.Do(ctx, key, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, errs.Is(err, errs.KindLockUnavailable))
	assert.False(t, errs.IsRetryable(err))
	assert.False(t, called)
}

func TestLocker_CancelledContext(t *testing.T) {
	store := NewMemoryStore(nil)
	ok, _ := store.Acquire(context.Background(), "lock:table:1", "x", time.Minute)
	require.True(t, ok)

	logger := zerolog.New(io.Discard)
	locker := NewLocker(store, Options{Attempts: 5, BaseDelay: time.Second}, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := locker.Acquire(ctx, TableKey(1))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLocker_SerializesCriticalSection(t *testing.T) {
	store, _ := newRedisStore(t)
	logger := zerolog.New(io.Discard)
	locker := NewLocker(store, Options{
		TTL:       5 * time.Second,
		Attempts:  200,
		BaseDelay: time.Millisecond,
		MaxDelay:  3 * time.Millisecond,
	}, &logger)
	key := SlotKey(1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), model.MustClock("19:00"), nil)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.Do(context.Background(), key, func(context.Context) error {
				cur := atomic.AddInt32(&inside, 1)
				for {
					prev := atomic.LoadInt32(&maxInside)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLocker_DoAll(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	locker := testLocker(store)

	keys := []Key{TableKey(3), TableKey(1), TableKey(3)}
	err := locker.DoAll(ctx, keys, func(context.Context) error {
		assert.Equal(t, 2, store.Len())
		return errors.New("write failed")
	})
	assert.EqualError(t, err, "write failed")
	assert.Equal(t, 0, store.Len(), "all keys released")

	ok, _ := store.Acquire(ctx, string(TableKey(3)), "other", time.Minute)
	require.True(t, ok)
	err = locker.DoAll(ctx, []Key{TableKey(1), TableKey(3)}, func(context.Context) error { return nil })
	assert.True(t, errs.Is(err, errs.KindLockUnavailable))
	assert.Equal(t, 1, store.Len(), "partially acquired keys are released")
}

func TestLease_Extend(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)
	locker := testLocker(store)

	lease, err := locker.Acquire(ctx, TableKey(9))
	require.NoError(t, err)
	require.NotNil(t, lease)

	mr.FastForward(4 * time.Second)
	ok, err := lease.Extend(ctx, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(8 * time.Second)
	assert.True(t, mr.Exists(string(TableKey(9))), "extended lease outlives the original ttl")

	ok, err = lease.Release(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeys(t *testing.T) {
	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tid := int64(12)

	assert.Equal(t, Key("lock:booking:7:2026-03-01:18:30"), SlotKey(7, date, model.MustClock("18:30"), nil))
	assert.Equal(t, Key("lock:booking:7:2026-03-01:18:30:12"), SlotKey(7, date, model.MustClock("18:30"), &tid))
	assert.Equal(t, Key("lock:table:12"), TableKey(12))
	assert.Equal(t, Key("lock:waitlist:7:2026-03-01"), WaitlistKey(7, date))
}

func TestSortedUnique_NumericOrder(t *testing.T) {
	got := sortedUnique([]Key{TableKey(10), TableKey(2), TableKey(10), TableKey(1)})
	assert.Equal(t, []Key{TableKey(1), TableKey(2), TableKey(10)}, got)

	date := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got = sortedUnique([]Key{WaitlistKey(12, date), WaitlistKey(3, date)})
	assert.Equal(t, []Key{WaitlistKey(3, date), WaitlistKey(12, date)}, got)
}
