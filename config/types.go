package config

import "time"

// Config 是 AgentWrap 的完整配置。
// env 标签为空或 "-" 的字段只能写在 YAML 中。
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"` // 语义记忆与语义路由共用
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`         // 声明式 Agent 的默认值
	Memory    MemoryConfig    `yaml:"memory" env:"MEMORY"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Cache     CacheConfig     `yaml:"cache" env:"CACHE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	MCP       MCPConfig       `yaml:"mcp" env:"MCP"`

	Agents  []AgentDefinition  `yaml:"agents" env:"-"`
	Routers []RouterDefinition `yaml:"routers" env:"-"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// 按客户端 IP 限流，RPS 为 0 时关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	CORSAllowedOrigins []string  `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"` // 空则不输出 CORS 头
	JWT                JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig HMAC 签名校验，Secret 为空时不鉴权
type JWTConfig struct {
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

type LLMConfig struct {
	Provider   string        `yaml:"provider" env:"PROVIDER"` // openai 或兼容服务
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Breaker    BreakerConfig `yaml:"breaker" env:"BREAKER"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" env:"MAX_FAILURES"` // 连续失败次数达到后熔断
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`           // open -> half-open
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`         // closed 状态下计数清零周期
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"PROVIDER"` // hash | openai
	Model      string `yaml:"model" env:"MODEL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"` // 0 = 模型默认
	CacheSize  int    `yaml:"cache_size" env:"CACHE_SIZE"` // 0 = 不缓存
}

type AgentConfig struct {
	Model             string        `yaml:"model" env:"MODEL"` // 为空时用 llm.model
	SystemPrompt      string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Temperature       float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens         int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxToolIterations int           `yaml:"max_tool_iterations" env:"MAX_TOOL_ITERATIONS"`
	MaxRepairs        int           `yaml:"max_repairs" env:"MAX_REPAIRS"`
	MemoryWindow      int           `yaml:"memory_window" env:"MEMORY_WINDOW"`
	HistoryTokens     int           `yaml:"history_tokens" env:"HISTORY_TOKENS"` // tiktoken 计数，0 不限
	CacheTTL          time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	UserID            string        `yaml:"user_id" env:"USER_ID"`
}

// AgentDefinition 声明式 Agent，零值字段继承 AgentConfig
type AgentDefinition struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Template     string   `yaml:"template" json:"template"`
	SystemPrompt string   `yaml:"system_prompt" json:"system_prompt,omitempty"`
	Model        string   `yaml:"model" json:"model,omitempty"`
	Temperature  *float64 `yaml:"temperature" json:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens" json:"max_tokens,omitempty"`

	Output string        `yaml:"output" json:"output,omitempty"` // string list object number integer boolean
	Fields []OutputField `yaml:"fields" json:"fields,omitempty"`
	Tools  []string      `yaml:"tools" json:"tools,omitempty"`

	Memory        bool `yaml:"memory" json:"memory,omitempty"`
	MemoryWindow  int  `yaml:"memory_window" json:"memory_window,omitempty"`
	HistoryTokens int  `yaml:"history_tokens" json:"history_tokens,omitempty"`
	RecallTopK    int  `yaml:"recall_top_k" json:"recall_top_k,omitempty"`

	Cache    bool          `yaml:"cache" json:"cache,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl,omitempty"`

	MaxToolIterations int           `yaml:"max_tool_iterations" json:"max_tool_iterations,omitempty"`
	MaxRepairs        *int          `yaml:"max_repairs" json:"max_repairs,omitempty"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

type OutputField struct {
	Name        string   `yaml:"name" json:"name"`
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Required    bool     `yaml:"required" json:"required,omitempty"`
	Enum        []string `yaml:"enum" json:"enum,omitempty"`
}

type MemoryConfig struct {
	MaxMessages    int           `yaml:"max_messages" env:"MAX_MESSAGES"` // 每个作用域
	BestEffort     bool          `yaml:"best_effort" env:"BEST_EFFORT"`   // 工作记忆写失败只告警
	OpTimeout      time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT"`
	PersistTurns   bool          `yaml:"persist_turns" env:"PERSIST_TURNS"`
	IndexTurns     bool          `yaml:"index_turns" env:"INDEX_TURNS"`
	RecallMinScore float64       `yaml:"recall_min_score" env:"RECALL_MIN_SCORE"`

	// Persistent 以 database 配置作为持久后端。
	// AutoMigrate 只对 sqlite 生效，postgres/mysql 走 migrate 子命令。
	Persistent  bool           `yaml:"persistent" env:"PERSISTENT"`
	AutoMigrate bool           `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	Semantic    SemanticConfig `yaml:"semantic" env:"SEMANTIC"`
}

type SemanticConfig struct {
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	PersistDir string `yaml:"persist_dir" env:"PERSIST_DIR"` // 空则仅在内存
	Compress   bool   `yaml:"compress" env:"COMPRESS"`
}

type RouterDefinition struct {
	Name      string            `yaml:"name" json:"name"`
	Strategy  string            `yaml:"strategy" json:"strategy"`
	Threshold float64           `yaml:"threshold" json:"threshold,omitempty"`
	Default   string            `yaml:"default" json:"default,omitempty"`
	// FallbackOnMiss semantic / memory_aware 低于阈值时回退到 default
	FallbackOnMiss bool              `yaml:"fallback_on_miss" json:"fallback_on_miss,omitempty"`
	Routes         []RouteDefinition `yaml:"routes" json:"routes"`

	// memory_aware
	HistoryTurns    int     `yaml:"history_turns" json:"history_turns,omitempty"`
	HistoryWeight   float64 `yaml:"history_weight" json:"history_weight,omitempty"`
	ContinuityBonus float64 `yaml:"continuity_bonus" json:"continuity_bonus,omitempty"`
}

type RouteDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Agent       string   `yaml:"agent" json:"agent,omitempty"`
	Keywords    []string `yaml:"keywords" json:"keywords,omitempty"`
	Examples    []string `yaml:"examples" json:"examples,omitempty"`
}

// Target 路由目标 Agent，未写 agent 时与路由同名
func (r RouteDefinition) Target() string {
	if r.Agent == "" {
		return r.Name
	}
	return r.Agent
}

// RedisConfig 关闭时 Prompt 缓存只有本地 LRU
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLS          bool   `yaml:"tls" env:"TLS"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // sqlite | postgres | mysql
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"` // sqlite 下为文件路径
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

type CacheConfig struct {
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"` // 本地条目 TTL 上限
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`   // debug info warn error
	Format           string   `yaml:"format" env:"FORMAT"` // json | console
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

type MCPConfig struct {
	Name         string `yaml:"name" env:"NAME"`
	Instructions string `yaml:"instructions" env:"INSTRUCTIONS"`
}
