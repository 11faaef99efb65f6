package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Agents)
	assert.Empty(t, cfg.Routers)
}

func TestDefaultConfig_FreshCopy(t *testing.T) {
	a := DefaultConfig()
	a.Log.OutputPaths[0] = "stdout"
	a.Server.HTTPPort = 1
	b := DefaultConfig()
	assert.Equal(t, []string{"stderr"}, b.Log.OutputPaths)
	assert.Equal(t, 8080, b.Server.HTTPPort)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("server", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 50.0, cfg.Server.RateLimitRPS)
		assert.Empty(t, cfg.Server.JWT.Secret)
	})

	t.Run("llm", func(t *testing.T) {
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Empty(t, cfg.LLM.APIKey)
		assert.Equal(t, 3, cfg.LLM.MaxRetries)
		assert.Equal(t, uint32(5), cfg.LLM.Breaker.MaxFailures)
	})

	t.Run("agent", func(t *testing.T) {
		assert.Equal(t, 0.7, cfg.Agent.Temperature)
		assert.Equal(t, 5, cfg.Agent.MaxToolIterations)
		assert.Equal(t, 2, cfg.Agent.MaxRepairs)
		assert.Equal(t, 10, cfg.Agent.MemoryWindow)
		assert.Equal(t, "default", cfg.Agent.UserID)
	})

	t.Run("storage", func(t *testing.T) {
		assert.Equal(t, "agentwrap.db", cfg.Database.DSN())
		assert.Equal(t, 100, cfg.Memory.MaxMessages)
		assert.False(t, cfg.Memory.Persistent)
		assert.False(t, cfg.Memory.Semantic.Enabled)
		assert.False(t, cfg.Redis.Enabled)
		assert.Equal(t, "agentwrap:prompt:", cfg.Cache.KeyPrefix)
		assert.Equal(t, "hash", cfg.Embedding.Provider)
	})

	t.Run("observability", func(t *testing.T) {
		assert.Equal(t, "json", cfg.Log.Format)
		assert.False(t, cfg.Telemetry.Enabled)
		assert.InDelta(t, 0.1, cfg.Telemetry.SampleRate, 0.001)
	})
}
