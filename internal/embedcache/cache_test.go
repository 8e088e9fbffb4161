package embedcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_SetThenGetIsFixedPoint(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, c.Set(ctx, "hello world", "model-a", vec))

	got, ok, err := c.Get(ctx, "hello world", "model-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, vec, got)
}

func TestCache_GetMissReturnsFalse(t *testing.T) {
	c := openTestCache(t)
	_, ok, err := c.Get(context.Background(), "never seen", "model-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_GetBatchPreservesOrderAndFlagsMisses(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "t0", "m", []float32{1}))
	require.NoError(t, c.Set(ctx, "t2", "m", []float32{3}))

	results, err := c.GetBatch(ctx, []string{"t0", "t1", "t2"}, "m")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []float32{1}, results[0])
	assert.Nil(t, results[1])
	assert.Equal(t, []float32{3}, results[2])
}

func TestCache_SetBatchIsUpsertLastWriteWins(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "t", "m", []float32{1}))
	require.NoError(t, c.Set(ctx, "t", "m", []float32{2}))

	got, ok, err := c.Get(ctx, "t", "m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{2}, got)
}

func TestCache_ClearByModel(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "m1", []float32{1}))
	require.NoError(t, c.Set(ctx, "b", "m2", []float32{2}))
	require.NoError(t, c.Clear(ctx, "m1"))

	_, ok, err := c.Get(ctx, "a", "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "b", "m2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_Stats(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "m1", []float32{1}))
	require.NoError(t, c.Set(ctx, "b", "m1", []float32{2}))
	require.NoError(t, c.Set(ctx, "c", "m2", []float32{3}))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats["m1"])
	assert.Equal(t, 1, stats["m2"])
}
