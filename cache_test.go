package loom_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samlev/loom"
)

func TestCacheKeyString(t *testing.T) {
	t.Parallel()

	key := loom.CacheKey{
		Table:      "users",
		Operation:  "all",
		Predicates: "age = 21",
		OrderBy:    "name",
		Limit:      10,
	}
	assert.Equal(t, "users:all:age = 21:name:10:0", key.String())
}

func TestMemCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		c := loom.NewMemCache()
		v, err := c.Get(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("SetGet", func(t *testing.T) {
		c := loom.NewMemCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("Expiry", func(t *testing.T) {
		c := loom.NewMemCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Nanosecond))
		time.Sleep(time.Millisecond)
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("Delete", func(t *testing.T) {
		c := loom.NewMemCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, c.Delete(ctx, "k"))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("DeletePrefix", func(t *testing.T) {
		c := loom.NewMemCache()
		require.NoError(t, c.Set(ctx, "users:1", []byte("a"), 0))
		require.NoError(t, c.Set(ctx, "users:2", []byte("b"), 0))
		require.NoError(t, c.Set(ctx, "posts:1", []byte("c"), 0))
		require.NoError(t, c.DeletePrefix(ctx, "users:"))
		v, err := c.Get(ctx, "users:1")
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = c.Get(ctx, "posts:1")
		require.NoError(t, err)
		assert.Equal(t, []byte("c"), v)
	})

	t.Run("Clear", func(t *testing.T) {
		c := loom.NewMemCache()
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		require.NoError(t, c.Clear(ctx))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}
