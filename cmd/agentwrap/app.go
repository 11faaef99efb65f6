package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent"
	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/api/handlers"
	"github.com/BaSui01/agentwrap/config"
	"github.com/BaSui01/agentwrap/internal/cache"
	"github.com/BaSui01/agentwrap/internal/database"
	"github.com/BaSui01/agentwrap/internal/metrics"
	"github.com/BaSui01/agentwrap/internal/telemetry"
	"github.com/BaSui01/agentwrap/llm"
	llmcache "github.com/BaSui01/agentwrap/llm/cache"
	"github.com/BaSui01/agentwrap/llm/embedding"
	openaiprovider "github.com/BaSui01/agentwrap/llm/providers/openai"
	"github.com/BaSui01/agentwrap/llm/retry"
	"github.com/BaSui01/agentwrap/llm/tools"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧩 组合根
// =============================================================================

// App 按配置装配 Provider、记忆、缓存、工具、Agent 与路由器。
// serve / mcp / invoke / route / memory 子命令共用同一个 App。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *agent.Registry
	memory   *memory.Manager
	embedder embedding.Embedder
	provider *llm.ResilientProvider

	collector       *metrics.Collector
	metricsRegistry *prometheus.Registry
	telemetry       *telemetry.Providers

	pool  *database.Pool
	redis *cache.Manager

	checks  []handlers.HealthCheck
	closers []func(context.Context) error
}

type appOptions struct {
	provider llm.Provider
	embedder embedding.Embedder
}

// AppOption 替换外部依赖，测试中注入脚本化 Provider
type AppOption func(*appOptions)

// WithProvider 使用给定 Provider 代替 OpenAI
func WithProvider(p llm.Provider) AppOption {
	return func(o *appOptions) { o.provider = p }
}

// WithEmbedder 使用给定嵌入器代替配置中的嵌入器
func WithEmbedder(e embedding.Embedder) AppOption {
	return func(o *appOptions) { o.embedder = e }
}

// NewApp 构建并初始化 App。失败时已打开的资源会被释放。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...AppOption) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:             cfg,
		logger:          logger,
		metricsRegistry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// 1. 遥测与指标
	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	a.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollector("agentwrap", a.metricsRegistry, logger)

	// 2. 模型与嵌入
	client := a.initProvider(o)
	a.embedder = a.initEmbedder(o, client)

	// 3. 记忆
	if err := a.initMemory(); err != nil {
		return nil, err
	}

	// 4. Prompt 缓存
	promptCache, err := a.initPromptCache()
	if err != nil {
		return nil, err
	}

	// 5. 工具、Agent、路由器
	toolReg := tools.NewDefaultRegistry(logger)
	for _, t := range []tools.Tool{
		tools.Calculator(),
		tools.CurrentTime(nil),
		tools.MemoryRecall(a.memory, types.MemoryScope{}),
	} {
		if err := toolReg.RegisterTool(t); err != nil {
			return nil, err
		}
	}
	a.registry = agent.NewRegistry(toolReg, a.memory, logger)

	deps := agentDeps{
		base:     a.baseAgentConfig(),
		provider: a.provider,
		cache:    promptCache,
		memory:   a.memory,
		tools:    toolReg,
		observer: a.collector,
		logger:   logger,
	}
	for _, def := range cfg.Agents {
		r, err := buildAgent(deps, def)
		if err != nil {
			return nil, err
		}
		if err := a.registry.RegisterAgent(r); err != nil {
			return nil, err
		}
	}
	for _, def := range cfg.Routers {
		rt, err := router.New(routerConfig(def), a.embedder, a.memory, logger)
		if err != nil {
			return nil, err
		}
		if err := a.registry.RegisterRouter(rt); err != nil {
			return nil, err
		}
	}

	// 6. 健康检查
	a.checks = append(a.checks,
		handlers.MemoryCheck(a.memory),
		handlers.NewOptionalCheck("llm", func(context.Context) error {
			if a.provider.State() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		}),
	)

	if err := a.registry.Init(ctx); err != nil {
		return nil, err
	}
	logger.Info("application ready",
		zap.Int("agents", len(cfg.Agents)),
		zap.Int("routers", len(cfg.Routers)),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Bool("persistent_memory", a.pool != nil),
		zap.Bool("redis", a.redis != nil),
	)
	return a, nil
}

// initProvider 创建 OpenAI Provider 并包上重试与熔断；返回 SDK 客户端供嵌入复用
func (a *App) initProvider(o appOptions) *openai.Client {
	var client *openai.Client
	p := o.provider
	if p == nil {
		op := openaiprovider.New(openaiprovider.Config{
			APIKey:  a.cfg.LLM.APIKey,
			BaseURL: a.cfg.LLM.BaseURL,
			Model:   a.cfg.LLM.Model,
			Timeout: a.cfg.LLM.Timeout,
		}, a.logger)
		client = op.Client()
		p = op
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = a.cfg.LLM.MaxRetries
	a.provider = llm.NewResilientProvider(p, llm.ResilientConfig{
		Retry: policy,
		Breaker: llm.BreakerConfig{
			MaxFailures: a.cfg.LLM.Breaker.MaxFailures,
			Timeout:     a.cfg.LLM.Breaker.Timeout,
			Interval:    a.cfg.LLM.Breaker.Interval,
		},
		Timeout: a.cfg.LLM.Timeout,
		Observe: a.collector.RecordLLMRequest,
	}, a.logger)
	return client
}

func (a *App) initEmbedder(o appOptions, client *openai.Client) embedding.Embedder {
	if o.embedder != nil {
		return o.embedder
	}
	ec := a.cfg.Embedding
	var e embedding.Embedder
	switch ec.Provider {
	case "openai":
		e = embedding.NewOpenAIEmbedder(client, embedding.OpenAIConfig{
			APIKey:     a.cfg.LLM.APIKey,
			BaseURL:    a.cfg.LLM.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		}, a.logger)
	default:
		e = embedding.NewHashEmbedder(ec.Dimensions)
	}
	if ec.CacheSize > 0 {
		e = embedding.NewCachedEmbedder(e, ec.CacheSize)
	}
	return e
}

func (a *App) initMemory() error {
	mc := a.cfg.Memory
	opts := []memory.Option{memory.WithLogger(a.logger)}

	if mc.Persistent {
		var err error
		a.pool, err = database.Connect(a.cfg.Database, a.logger,
			database.WithStatsReporter(a.collector.RecordDBConnections))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return a.pool.Close() })
		a.checks = append(a.checks, handlers.NewCheck("database", a.pool.Ping))
		opts = append(opts, memory.WithPersistent(memory.NewPersistentStore(a.pool.DB(), a.logger)))
	}

	if mc.Semantic.Enabled {
		sem, err := memory.NewSemanticStore(memory.SemanticConfig{
			PersistDir: mc.Semantic.PersistDir,
			Compress:   mc.Semantic.Compress,
		}, a.embedder, a.logger)
		if err != nil {
			return err
		}
		opts = append(opts, memory.WithSemantic(sem))
	}

	a.memory = memory.NewManager(memory.Config{
		MaxMessages:    mc.MaxMessages,
		BestEffort:     mc.BestEffort,
		OpTimeout:      mc.OpTimeout,
		PersistTurns:   mc.PersistTurns,
		IndexTurns:     mc.IndexTurns,
		RecallMinScore: mc.RecallMinScore,
		// postgres / mysql 的表结构由 migrate 子命令管理
		AutoMigrate: mc.AutoMigrate && a.cfg.Database.Driver == "sqlite",
	}, opts...)
	return nil
}

func (a *App) initPromptCache() (llmcache.PromptCache, error) {
	var rdb redis.UniversalClient
	if a.cfg.Redis.Enabled {
		var err error
		a.redis, err = cache.NewManager(cache.ConfigFrom(a.cfg.Redis), a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.redis.Close() })
		a.checks = append(a.checks, handlers.NewOptionalCheck("redis", a.redis.Ping))
		rdb = a.redis.Client()
	}
	cc := a.cfg.Cache
	return llmcache.NewMultiLevelCache(rdb, &llmcache.CacheConfig{
		LocalMaxSize: cc.LocalMaxSize,
		LocalTTL:     cc.LocalTTL,
		RedisTTL:     cc.RedisTTL,
		EnableLocal:  true,
		EnableRedis:  rdb != nil,
		KeyPrefix:    cc.KeyPrefix,
	}, a.logger), nil
}

// baseAgentConfig 合并 agent 默认值；零值沿用内置默认
func (a *App) baseAgentConfig() agent.Config {
	ac := a.cfg.Agent
	c := agent.DefaultConfig()
	c.Model = firstNonEmpty(ac.Model, a.cfg.LLM.Model, c.Model)
	c.SystemPrompt = ac.SystemPrompt
	c.Temperature = ac.Temperature
	c.MaxTokens = ac.MaxTokens
	if ac.Timeout > 0 {
		c.Timeout = ac.Timeout
	}
	if ac.MaxToolIterations > 0 {
		c.MaxToolIterations = ac.MaxToolIterations
	}
	c.MaxRepairs = ac.MaxRepairs
	if ac.MemoryWindow > 0 {
		c.MemoryWindow = ac.MemoryWindow
	}
	c.HistoryTokens = ac.HistoryTokens
	if ac.CacheTTL > 0 {
		c.CacheTTL = ac.CacheTTL
	}
	if ac.UserID != "" {
		c.UserID = ac.UserID
	}
	return c
}

// Close 关闭注册中心与所有外部连接，按打开的逆序释放
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Close(ctx))
	} else if a.memory != nil {
		errs = append(errs, a.memory.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// 📜 声明式 Agent
// =============================================================================

type agentDeps struct {
	base     agent.Config
	provider llm.Provider
	cache    llmcache.PromptCache
	memory   *memory.Manager
	tools    *tools.DefaultRegistry
	observer agent.Observer
	logger   *zap.Logger
}

// buildAgent 按输出类型选择 Out 类型参数。声明式 Agent 的输入总是 map。
func buildAgent(d agentDeps, def config.AgentDefinition) (agent.Runner, error) {
	switch def.OutputKind() {
	case config.OutputString:
		return buildDeclarative[string](d, def)
	case config.OutputList:
		return buildDeclarative[[]string](d, def)
	case config.OutputObject:
		return buildDeclarative[map[string]any](d, def)
	case config.OutputNumber:
		return buildDeclarative[float64](d, def)
	case config.OutputInteger:
		return buildDeclarative[int64](d, def)
	case config.OutputBoolean:
		return buildDeclarative[bool](d, def)
	default:
		return nil, fmt.Errorf("agent %s: unknown output kind %q", def.Name, def.Output)
	}
}

func buildDeclarative[Out any](d agentDeps, def config.AgentDefinition) (agent.Runner, error) {
	b := agent.New[map[string]any, Out](def.Name).
		WithConfig(d.base).
		Description(def.Description).
		Template(def.Template).
		Provider(d.provider).
		ToolRegistry(d.tools).
		Observer(d.observer).
		Logger(d.logger)

	system := firstNonEmpty(def.SystemPrompt, d.base.SystemPrompt)
	if len(def.Fields) > 0 {
		schema, err := fieldsSchema(def.Fields)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", def.Name, err)
		}
		system = strings.TrimSpace(system + "\n\nThe JSON object must match this schema:\n" + schema)
	}
	b.SystemPrompt(system)

	if def.Model != "" {
		b.Model(def.Model)
	}
	if def.Temperature != nil {
		b.Temperature(*def.Temperature)
	}
	if def.MaxTokens > 0 {
		b.MaxTokens(def.MaxTokens)
	}
	if len(def.Tools) > 0 {
		b.Tools(def.Tools...)
	}
	if def.Memory {
		b.Memory(d.memory)
		if def.MemoryWindow > 0 {
			b.MemoryWindow(def.MemoryWindow)
		}
		if def.HistoryTokens > 0 {
			b.HistoryTokens(def.HistoryTokens)
		}
		b.RecallTopK(def.RecallTopK)
	}
	if def.Cache {
		b.Cache(def.CacheTTL).PromptCache(d.cache)
	}
	if def.MaxToolIterations > 0 {
		b.MaxToolIterations(def.MaxToolIterations)
	}
	if def.MaxRepairs != nil {
		b.MaxRepairs(*def.MaxRepairs)
	}
	if def.Timeout > 0 {
		b.Timeout(def.Timeout)
	}

	a, err := b.Build()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// fieldsSchema 把 object 输出的字段声明渲染为 JSON Schema
func fieldsSchema(fields []config.OutputField) (string, error) {
	props := jsonschema.NewProperties()
	var required []string
	for _, f := range fields {
		s := &jsonschema.Schema{Type: f.Type, Description: f.Description}
		for _, e := range f.Enum {
			s.Enum = append(s.Enum, e)
		}
		props.Set(f.Name, s)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := &jsonschema.Schema{Type: "object", Properties: props, Required: required}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("render output schema: %w", err)
	}
	return string(data), nil
}

func routerConfig(def config.RouterDefinition) router.Config {
	routes := make([]router.Route, 0, len(def.Routes))
	for _, r := range def.Routes {
		routes = append(routes, router.Route{
			Name:        r.Name,
			Description: r.Description,
			Agent:       r.Agent,
			Keywords:    r.Keywords,
			Examples:    r.Examples,
		})
	}
	return router.Config{
		Name:            def.Name,
		Strategy:        router.Strategy(def.Strategy),
		Threshold:       def.Threshold,
		Default:         def.Default,
		FallbackOnMiss:  def.FallbackOnMiss,
		Routes:          routes,
		HistoryTurns:    def.HistoryTurns,
		HistoryWeight:   def.HistoryWeight,
		ContinuityBonus: def.ContinuityBonus,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
