package agent

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/prompt"
	"github.com/BaSui01/agentwrap/agent/structured"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/llm/cache"
	"github.com/BaSui01/agentwrap/llm/tokenizer"
	"github.com/BaSui01/agentwrap/llm/tools"
	"github.com/BaSui01/agentwrap/types"
)

// 本地缓存默认容量（未注入 PromptCache 时使用）
const defaultCacheCapacity = 1000

// Builder 提供流式构建 Agent 的能力
// 支持链式调用；参数错误累积到 Build 时统一返回
type Builder[In, Out any] struct {
	cfg      Config
	provider llm.Provider
	cache    cache.PromptCache
	memory   *memory.Manager
	registry *tools.DefaultRegistry
	extra    []tools.Tool
	observer Observer
	logger   *zap.Logger

	errors []error
}

// New 创建 Agent 构建器
func New[In, Out any](name string) *Builder[In, Out] {
	cfg := DefaultConfig()
	cfg.Name = name
	return &Builder[In, Out]{cfg: cfg}
}

// WithConfig 用完整配置替换当前配置（声明式 Agent 使用），名称保持不变
func (b *Builder[In, Out]) WithConfig(cfg Config) *Builder[In, Out] {
	name := b.cfg.Name
	b.cfg = cfg.clone()
	if b.cfg.Name == "" {
		b.cfg.Name = name
	}
	return b
}

func (b *Builder[In, Out]) Description(d string) *Builder[In, Out] {
	b.cfg.Description = d
	return b
}

// Template 设置提示模板
func (b *Builder[In, Out]) Template(text string) *Builder[In, Out] {
	b.cfg.Template = text
	return b
}

func (b *Builder[In, Out]) SystemPrompt(text string) *Builder[In, Out] {
	b.cfg.SystemPrompt = text
	return b
}

func (b *Builder[In, Out]) Model(model string) *Builder[In, Out] {
	if model == "" {
		b.errors = append(b.errors, fmt.Errorf("model cannot be empty"))
		return b
	}
	b.cfg.Model = model
	return b
}

func (b *Builder[In, Out]) Temperature(t float64) *Builder[In, Out] {
	b.cfg.Temperature = t
	return b
}

func (b *Builder[In, Out]) MaxTokens(n int) *Builder[In, Out] {
	b.cfg.MaxTokens = n
	return b
}

// Cache 开启响应缓存；ttl <= 0 使用默认 TTL
func (b *Builder[In, Out]) Cache(ttl time.Duration) *Builder[In, Out] {
	b.cfg.CacheEnabled = true
	if ttl > 0 {
		b.cfg.CacheTTL = ttl
	}
	return b
}

// PromptCache 注入缓存后端（如 Redis 多级缓存），多个 Agent 可共享
func (b *Builder[In, Out]) PromptCache(c cache.PromptCache) *Builder[In, Out] {
	b.cache = c
	return b
}

// Memory 设置记忆管理器；nil 表示关闭记忆
func (b *Builder[In, Out]) Memory(mgr *memory.Manager) *Builder[In, Out] {
	b.memory = mgr
	b.cfg.MemoryEnabled = mgr != nil
	return b
}

func (b *Builder[In, Out]) MemoryWindow(n int) *Builder[In, Out] {
	b.cfg.MemoryWindow = n
	return b
}

// HistoryTokens 按模型分词器限制注入历史的 token 数
func (b *Builder[In, Out]) HistoryTokens(n int) *Builder[In, Out] {
	b.cfg.HistoryTokens = n
	return b
}

func (b *Builder[In, Out]) RecallTopK(k int) *Builder[In, Out] {
	b.cfg.RecallTopK = k
	return b
}

// Tools 声明 Agent 可用的工具名称，名称需在 ToolRegistry 中注册
func (b *Builder[In, Out]) Tools(names ...string) *Builder[In, Out] {
	b.cfg.Tools = append(b.cfg.Tools, names...)
	return b
}

// ToolRegistry 设置工具注册中心
func (b *Builder[In, Out]) ToolRegistry(reg *tools.DefaultRegistry) *Builder[In, Out] {
	b.registry = reg
	return b
}

// Tool 注册一个类型化工具并加入工具列表
func (b *Builder[In, Out]) Tool(t tools.Tool) *Builder[In, Out] {
	b.extra = append(b.extra, t)
	b.cfg.Tools = append(b.cfg.Tools, t.Schema.Name)
	return b
}

func (b *Builder[In, Out]) MaxToolIterations(n int) *Builder[In, Out] {
	b.cfg.MaxToolIterations = n
	return b
}

func (b *Builder[In, Out]) MaxRepairs(n int) *Builder[In, Out] {
	b.cfg.MaxRepairs = n
	return b
}

// Timeout 设置单次模型调用超时
func (b *Builder[In, Out]) Timeout(d time.Duration) *Builder[In, Out] {
	b.cfg.Timeout = d
	return b
}

// DefaultUser 设置未指定用户时的记忆作用域用户
func (b *Builder[In, Out]) DefaultUser(id string) *Builder[In, Out] {
	b.cfg.UserID = id
	return b
}

// Provider 设置 LLM Provider
func (b *Builder[In, Out]) Provider(p llm.Provider) *Builder[In, Out] {
	if p == nil {
		b.errors = append(b.errors, fmt.Errorf("provider cannot be nil"))
		return b
	}
	b.provider = p
	return b
}

// Observer 设置指标观察者
func (b *Builder[In, Out]) Observer(o Observer) *Builder[In, Out] {
	b.observer = o
	return b
}

// Logger 设置日志器
func (b *Builder[In, Out]) Logger(logger *zap.Logger) *Builder[In, Out] {
	if logger == nil {
		b.errors = append(b.errors, fmt.Errorf("logger cannot be nil"))
		return b
	}
	b.logger = logger
	return b
}

// Build 构建 Agent。模板占位符不是输入字段时返回 TemplateError。
func (b *Builder[In, Out]) Build() (*Agent[In, Out], error) {
	// 检查构建过程中的错误
	errs := append([]error(nil), b.errors...)
	errs = append(errs, b.cfg.validate()...)
	if b.provider == nil {
		errs = append(errs, ErrNoProvider)
	}
	if b.cfg.Template == "" {
		errs = append(errs, ErrNoTemplate)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("agent %s: builder has %d errors: %w", b.cfg.Name, len(errs), errors.Join(errs...))
	}

	tmpl, err := prompt.Parse(b.cfg.Name, b.cfg.Template)
	if err != nil {
		return nil, err
	}
	if fields, ok := b.allowedFields(); ok {
		if err := tmpl.Validate(fields); err != nil {
			return nil, err
		}
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "agent"), zap.String("agent", b.cfg.Name))

	registry := b.registry
	if registry == nil && len(b.cfg.Tools) > 0 {
		registry = tools.NewDefaultRegistry(logger)
	}
	for _, t := range b.extra {
		if registry.Has(t.Schema.Name) {
			continue
		}
		if err := registry.RegisterTool(t); err != nil {
			return nil, fmt.Errorf("agent %s: %w", b.cfg.Name, err)
		}
	}

	cfg := b.cfg.clone()
	cfg.Tools = dedupe(cfg.Tools)

	var schemas []types.ToolSchema
	if len(cfg.Tools) > 0 {
		schemas, err = registry.Schemas(cfg.Tools...)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
		}
	}

	observer := b.observer
	if observer == nil {
		observer = nopObserver{}
	}

	pc := b.cache
	if cfg.CacheEnabled && pc == nil {
		pc = cache.NewLRUCache(defaultCacheCapacity, cfg.CacheTTL)
	}

	a := &Agent[In, Out]{
		cfg:      cfg,
		template: tmpl,
		target:   structured.TargetFor[Out](),
		parser:   structured.NewParser(logger),
		provider: b.provider,
		cache:    pc,
		memory:   b.memory,
		schemas:  schemas,
		observer: observer,
		logger:   logger,
	}
	a.usesHistory, a.usesMemories = usesVar(tmpl, VarHistory), usesVar(tmpl, VarMemories)
	if cfg.MemoryEnabled && cfg.HistoryTokens > 0 {
		a.tokenizer = tokenizer.ForModel(cfg.Model, logger)
	}
	if registry != nil {
		a.executor = tools.NewDefaultExecutor(registry, logger).WithObserver(func(name string, d time.Duration, errMsg string) {
			status := "ok"
			if errMsg != "" {
				status = "error"
			}
			observer.ObserveToolCall(cfg.Name, name, status, d)
		})
	}

	logger.Info("agent built",
		zap.String("model", cfg.Model),
		zap.Strings("tools", cfg.Tools),
		zap.Bool("cache", cfg.CacheEnabled),
		zap.Bool("memory", cfg.MemoryEnabled),
		zap.Stringer("output", a.target.Kind),
	)
	return a, nil
}

// allowedFields 返回模板可引用的字段；map / interface 输入的字段在运行时才知道，返回 false
func (b *Builder[In, Out]) allowedFields() ([]string, bool) {
	t := reflect.TypeOf((*In)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Map || t.Kind() == reflect.Interface {
		return nil, false
	}
	fields := prompt.FieldNamesOf[In]()
	if b.cfg.MemoryEnabled {
		fields = append(fields, VarHistory, VarMemories)
	}
	return fields, true
}

func usesVar(t *prompt.Template, name string) bool {
	for _, p := range t.Placeholders() {
		if p == name {
			return true
		}
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
