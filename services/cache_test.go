package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("get set and expiry", func(t *testing.T) {
		m := NewMemoryCache()
		now := time.Now()
		m.now = func() time.Time { return now }

		require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
		v, ok, err := m.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("1"), v)

		now = now.Add(2 * time.Minute)
		_, ok, err = m.Get(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete prefix", func(t *testing.T) {
		m := NewMemoryCache()
		require.NoError(t, m.Set(ctx, "customer:1:items", []byte("x"), 0))
		require.NoError(t, m.Set(ctx, "customer:1:bookings", []byte("x"), 0))
		require.NoError(t, m.Set(ctx, "customer:2:items", []byte("x"), 0))

		require.NoError(t, m.DeletePrefix(ctx, "customer:1:"))

		_, ok, _ := m.Get(ctx, "customer:1:items")
		assert.False(t, ok)
		_, ok, _ = m.Get(ctx, "customer:2:items")
		assert.True(t, ok)
	})

	t.Run("mark processed once", func(t *testing.T) {
		m := NewMemoryCache()

		first, err := m.MarkProcessed(ctx, "hook-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, first)

		again, err := m.MarkProcessed(ctx, "hook-1", time.Hour)
		require.NoError(t, err)
		assert.False(t, again)

		require.NoError(t, m.Forget(ctx, "hook-1"))
		retry, err := m.MarkProcessed(ctx, "hook-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, retry)
	})
}

func TestCustomerKey(t *testing.T) {
	id := uuid.MustParse("7c1f2a9e-0000-4000-8000-000000000001")
	assert.Equal(t, "customer:7c1f2a9e-0000-4000-8000-000000000001:items", CustomerKey(id, "items"))
}

func TestLoadCached(t *testing.T) {
	ctx := context.Background()
	customer := uuid.New()
	key := CustomerKey(customer, "items")

	t.Run("loads once and serves from cache", func(t *testing.T) {
		q := NewQueryCache(NewMemoryCache(), time.Minute, zaptest.NewLogger(t))
		var loads int32
		load := func(ctx context.Context) ([]string, error) {
			atomic.AddInt32(&loads, 1)
			return []string{"bike", "tent"}, nil
		}

		first, err := LoadCached(ctx, q, key, load)
		require.NoError(t, err)
		second, err := LoadCached(ctx, q, key, load)
		require.NoError(t, err)

		assert.Equal(t, []string{"bike", "tent"}, first)
		assert.Equal(t, first, second)
		assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
	})

	t.Run("invalidate forces a reload", func(t *testing.T) {
		q := NewQueryCache(NewMemoryCache(), time.Minute, zaptest.NewLogger(t))
		var loads int32
		load := func(ctx context.Context) (int, error) {
			return int(atomic.AddInt32(&loads, 1)), nil
		}

		v, err := LoadCached(ctx, q, key, load)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		q.Invalidate(ctx, customer)

		v, err = LoadCached(ctx, q, key, load)
		require.NoError(t, err)
		assert.Equal(t, 2, v)
	})

	t.Run("concurrent misses share one load", func(t *testing.T) {
		q := NewQueryCache(NewMemoryCache(), time.Minute, zaptest.NewLogger(t))
		var loads int32
		release := make(chan struct{})
		load := func(ctx context.Context) (string, error) {
			atomic.AddInt32(&loads, 1)
			<-release
			return "value", nil
		}

		var wg sync.WaitGroup
		results := make([]string, 5)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = LoadCached(ctx, q, key, load)
			}(i)
		}
		require.Eventually(t, func() bool { return atomic.LoadInt32(&loads) == 1 }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
		for _, r := range results {
			assert.Equal(t, "value", r)
		}
	})

	t.Run("errors are not cached", func(t *testing.T) {
		q := NewQueryCache(NewMemoryCache(), time.Minute, zaptest.NewLogger(t))
		fail := true
		load := func(ctx context.Context) (string, error) {
			if fail {
				return "", errors.New("db down")
			}
			return "ok", nil
		}

		_, err := LoadCached(ctx, q, key, load)
		require.Error(t, err)

		fail = false
		v, err := LoadCached(ctx, q, key, load)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("nil cache calls through", func(t *testing.T) {
		var q *QueryCache
		v, err := LoadCached(ctx, q, key, func(ctx context.Context) (string, error) { return "direct", nil })
		require.NoError(t, err)
		assert.Equal(t, "direct", v)
		q.Invalidate(ctx, customer)
	})
}
