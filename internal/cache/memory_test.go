package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlopt/engine/internal/cache"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(10)

	require.NoError(t, c.Set(ctx, "k1", "v1", 0))
	v, ok := c.Get(ctx, "k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, ok = c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestMemoryCache_ExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(10)

	require.NoError(t, c.Set(ctx, "k1", "v1", 1*time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get(ctx, "k1")
	assert.False(t, ok)
}

func TestMemoryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(2)

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	// touch "a" so "b" becomes the least-recently-used entry
	_, _ = c.Get(ctx, "a")
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted as least recently used")

	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestPatternKey_WorkloadStatsKey(t *testing.T) {
	assert.Equal(t, "pattern:PG:sig1", cache.PatternKey("PG", "sig1"))
	assert.Equal(t, "workload:42", cache.WorkloadStatsKey(42))
}
