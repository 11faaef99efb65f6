package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/testutil"
)

func TestLRU_Basic(t *testing.T) {
	c := NewLRU[int](3, time.Minute)
	c.Set("key1", 100)

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, 100, got)
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[int](2, time.Minute)

	c.Set("key1", 1)
	c.Set("key2", 2)
	c.Set("key3", 3) // 应该驱逐 key1

	_, ok := c.Get("key1")
	assert.False(t, ok, "key1 should have been evicted")
	_, ok = c.Get("key2")
	assert.True(t, ok)
	_, ok = c.Get("key3")
	assert.True(t, ok)
}

func TestLRU_TTL(t *testing.T) {
	now := time.Now()
	c := NewLRU[int](10, 10*time.Millisecond)
	c.now = func() time.Time { return now }

	c.Set("key1", 1)
	_, ok := c.Get("key1")
	assert.True(t, ok)

	now = now.Add(20 * time.Millisecond)
	_, ok = c.Get("key1")
	assert.False(t, ok, "expected miss after TTL")
}

func TestLRU_SetIfAbsent(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	assert.True(t, c.SetIfAbsent("k", "first", 0))
	assert.False(t, c.SetIfAbsent("k", "second", 0))

	got, _ := c.Get("k")
	assert.Equal(t, "first", got)
}

func TestLRUCache_PromptCache(t *testing.T) {
	var pc PromptCache = NewLRUCache(10, time.Minute)
	ctx := context.Background()

	_, err := pc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ok, err := pc.SetIfAbsent(ctx, "k", &Entry{Output: json.RawMessage(`"a"`)}, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = pc.SetIfAbsent(ctx, "k", &Entry{Output: json.RawMessage(`"b"`)}, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	entry, err := pc.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"a"`, string(entry.Output))
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestMultiLevelCache_RedisBackfill(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()

	writer := NewMultiLevelCache(rdb, nil, zap.NewNop())
	ok, err := writer.SetIfAbsent(ctx, "fp1", &Entry{Agent: "qa", Output: json.RawMessage(`{"x":1}`)}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists(DefaultKeyPrefix+"fp1"))

	// 另一个进程：本地为空，从 Redis 读取并回填
	reader := NewMultiLevelCache(rdb, nil, zap.NewNop())
	entry, err := reader.Get(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, "qa", entry.Agent)

	_, local := reader.local.Get("fp1")
	assert.True(t, local, "redis hit should back-fill local")
}

func TestMultiLevelCache_SetNXAcrossInstances(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()

	a := NewMultiLevelCache(rdb, nil, zap.NewNop())
	b := NewMultiLevelCache(rdb, nil, zap.NewNop())

	ok, err := a.SetIfAbsent(ctx, "fp", &Entry{Output: json.RawMessage(`1`)}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.SetIfAbsent(ctx, "fp", &Entry{Output: json.RawMessage(`2`)}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second writer must not overwrite")

	b.local.Delete("fp")
	entry, err := b.Get(ctx, "fp")
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(entry.Output))
}

func TestMultiLevelCache_RedisDownDegradesToLocal(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	c := NewMultiLevelCache(rdb, nil, zap.NewNop())

	mr.SetError("ERR server unavailable")

	ok, err := c.SetIfAbsent(ctx, "fp", &Entry{Output: json.RawMessage(`"v"`)}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.JSONEq(t, `"v"`, string(entry.Output))

	_, err = c.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMultiLevelCache_Delete(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	c := NewMultiLevelCache(rdb, nil, zap.NewNop())

	_, err := c.SetIfAbsent(ctx, "fp", &Entry{Output: json.RawMessage(`1`)}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "fp"))

	assert.False(t, mr.Exists(DefaultKeyPrefix+"fp"))
	_, err = c.Get(ctx, "fp")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
