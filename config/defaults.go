package config

import "time"

// DefaultConfig 开箱即可运行：sqlite 文件、离线哈希嵌入、不连 Redis。
// 返回的值可随意修改，每次调用都是新副本。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute, // 覆盖带工具循环的长调用
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
			Breaker:    BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, Interval: time.Minute},
		},
		Embedding: EmbeddingConfig{Provider: "hash", Dimensions: 256, CacheSize: 1024},
		Agent: AgentConfig{
			Temperature:       0.7,
			Timeout:           time.Minute,
			MaxToolIterations: 5,
			MaxRepairs:        2,
			MemoryWindow:      10,
			CacheTTL:          time.Hour,
			UserID:            "default",
		},
		Memory: MemoryConfig{MaxMessages: 100, OpTimeout: 5 * time.Second, AutoMigrate: true},
		Redis:  RedisConfig{Addr: "localhost:6379", PoolSize: 10, MinIdleConns: 2},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "agentwrap.db",
			Host:            "localhost",
			Port:            5432,
			User:            "agentwrap",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			RedisTTL:     time.Hour,
			KeyPrefix:    "agentwrap:prompt:",
		},
		Log:       LogConfig{Level: "info", Format: "json", OutputPaths: []string{"stderr"}, EnableCaller: true},
		Telemetry: TelemetryConfig{OTLPEndpoint: "localhost:4317", ServiceName: "agentwrap", SampleRate: 0.1},
		MCP: MCPConfig{
			Name:         "agentwrap",
			Instructions: "Invoke configured agents, route queries and manage agent memory.",
		},
	}
}
