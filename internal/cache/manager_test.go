package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/config"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_PingAndClient(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Ping(ctx))

	require.NoError(t, manager.Client().Set(ctx, "k", "v", time.Minute).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestManager_PingAfterServerStops(t *testing.T) {
	mr, manager := setupTestRedis(t)
	mr.Close()
	assert.Error(t, manager.Ping(context.Background()))
}

func TestManager_ConnectFailure(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManager_Close(t *testing.T) {
	_, manager := setupTestRedis(t)

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrClosed)

	_, err := manager.Stats(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_HealthCheckLoopStops(t *testing.T) {
	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{Addr: mr.Addr(), ProbeEvery: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = manager.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not stop the probe loop")
	}
}

func TestManager_Stats(t *testing.T) {
	mr, manager := setupTestRedis(t)
	require.NoError(t, mr.Set("a", "1"))
	require.NoError(t, mr.Set("b", "2"))

	s, err := manager.Stats(context.Background())
	if err != nil {
		// miniredis 不实现全部 INFO 段
		t.Skipf("INFO unsupported: %v", err)
	}
	assert.Equal(t, int64(2), s.Keys)
}

func TestParseInfo(t *testing.T) {
	info := "# Stats\r\nkeyspace_hits:42\r\nkeyspace_misses:7\r\n\r\n# Memory\r\nused_memory:1048576\r\n# Clients\r\nconnected_clients:3\r\n"
	stats := parseInfo(info)
	assert.Equal(t, uint64(42), stats.Hits)
	assert.Equal(t, uint64(7), stats.Misses)
	assert.Equal(t, int64(1048576), stats.UsedMemory)
	assert.Equal(t, 3, stats.Connections)
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.RedisConfig{Addr: "redis:6379", DB: 2, PoolSize: 20})
	assert.Equal(t, "redis:6379", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Equal(t, 20, c.PoolSize)
	assert.Equal(t, 2, c.MinIdleConns)
	assert.Equal(t, 30*time.Second, c.ProbeEvery)
	assert.Nil(t, c.options().TLSConfig)
	assert.False(t, c.TLS)

	tlsOpts := ConfigFrom(config.RedisConfig{Addr: "cache.example.com:6380", TLS: true}).options()
	require.NotNil(t, tlsOpts.TLSConfig)
	assert.Equal(t, "cache.example.com", tlsOpts.TLSConfig.ServerName)
}
