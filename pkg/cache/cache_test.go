package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name string  `json:"name"`
	Cap  float64 `json:"cap"`
}

func newSQLite(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func backends(t *testing.T) map[string]Service {
	mem := NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	return map[string]Service{
		"memory":  mem,
		"sqlite":  newSQLite(t),
		"layered": NewLayeredCache(newSQLite(t)),
	}
}

func TestServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "profile:AAPL", profile{Name: "Apple", Cap: 3e6}, time.Hour))
			var p profile
			require.NoError(t, c.Get(ctx, "profile:AAPL", &p))
			assert.Equal(t, "Apple", p.Name)

			require.NoError(t, c.Set(ctx, "raw", "plain text", 0))
			var s string
			require.NoError(t, c.Get(ctx, "raw", &s))
			assert.Equal(t, "plain text", s)

			assert.ErrorIs(t, c.Get(ctx, "missing", &s), ErrCacheMiss)

			ok, err := c.Exists(ctx, "missing", "raw")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, c.DeleteByPattern(ctx, "profile:*"))
			assert.ErrorIs(t, c.Get(ctx, "profile:AAPL", &p), ErrCacheMiss)
			require.NoError(t, c.Get(ctx, "raw", &s))
		})
	}
}

func TestIncrementAndLock(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			n, err := c.Increment(ctx, "runs")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			n, err = c.Increment(ctx, "runs")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			ok, err := c.TryLock(ctx, "lock:nightly", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = c.TryLock(ctx, "lock:nightly", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, c.Unlock(ctx, "lock:nightly"))
			ok, err = c.TryLock(ctx, "lock:nightly", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestSQLiteExpiry(t *testing.T) {
	ctx := context.Background()
	c := newSQLite(t)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))
	ok, err := c.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	var s string
	assert.ErrorIs(t, c.Get(ctx, "k", &s), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "forever", &s))

	ok, err = c.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.db")
	c, err := NewSQLiteCache(path)
	require.NoError(t, err)
	require.NoError(t, c.MSet(ctx, map[string]interface{}{"a": 1, "b": profile{Name: "B"}}, 0))
	require.NoError(t, c.Close())

	c, err = NewSQLiteCache(path)
	require.NoError(t, err)
	defer c.Close()
	got, err := MGetTyped[profile](ctx, c, "b", "zzz")
	require.NoError(t, err)
	assert.Equal(t, map[string]profile{"b": {Name: "B"}}, got)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	var n int
	require.NoError(t, c.Get(ctx, "a", &n))
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.ErrorIs(t, c.Get(ctx, "b", &n), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "a", &n))
	assert.Equal(t, 1, n)
}

func TestRemember(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	calls := 0
	load := func(context.Context) (profile, error) {
		calls++
		return profile{Name: "X"}, nil
	}
	for i := 0; i < 3; i++ {
		p, err := Remember(ctx, c, "p", time.Hour, load)
		require.NoError(t, err)
		assert.Equal(t, "X", p.Name)
	}
	assert.Equal(t, 1, calls)

	_, err := Remember(ctx, c, "q", time.Hour, func(context.Context) (profile, error) {
		return profile{}, errors.New("down")
	})
	assert.EqualError(t, err, "down")
	_, err = Remember[profile](ctx, nil, "q", time.Hour, load)
	assert.NoError(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "profile:AAPL", GenerateKey("profile", "AAPL"))
	assert.Equal(t, "hv:AAPL:20", GenerateKeyWithParams("hv", "AAPL", 20))
	assert.Len(t, HashKey("x"), 32)
}

func TestMemoryCacheOptions(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(10*time.Millisecond))
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	time.Sleep(time.Millisecond)
	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "a", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "c", &v))
	assert.Equal(t, 3, v)

	require.NoError(t, mc.Set(ctx, "short", 4, 5*time.Millisecond))
	assert.Eventually(t, func() bool {
		mc.mutex.Lock()
		defer mc.mutex.Unlock()
		_, ok := mc.data["short"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLayeredMemorySize(t *testing.T) {
	lc := NewLayeredCache(newSQLite(t), WithLayeredMemorySize(3))
	assert.Equal(t, 3, lc.memCache.maxSize)
	_ = lc.memCache.Close()
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	_, err := NewRedisCache(
		WithRedisAddr("127.0.0.1:1"),
		WithRedisPassword(""),
		WithRedisDB(0),
		WithRedisPool(1, 0, time.Second),
		WithRedisPrefix("test"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
