package config

import (
	"errors"
	"fmt"
	"strings"
)

// 声明式 Agent 支持的输出类型
const (
	OutputString  = "string"
	OutputList    = "list"
	OutputObject  = "object"
	OutputNumber  = "number"
	OutputInteger = "integer"
	OutputBoolean = "boolean"
)

var (
	outputKinds = map[string]bool{
		OutputString: true, OutputList: true, OutputObject: true,
		OutputNumber: true, OutputInteger: true, OutputBoolean: true,
	}
	fieldTypes = map[string]bool{
		"string": true, "number": true, "integer": true, "boolean": true, "array": true, "object": true,
	}
	routerStrategies = map[string]bool{"": true, "keyword": true, "semantic": true, "memory_aware": true}
	dbDrivers        = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	logLevels        = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	embedProviders   = map[string]bool{"hash": true, "openai": true}
)

// OutputKind 返回定义的输出类型，未设置时为 string
func (d AgentDefinition) OutputKind() string {
	if d.Output == "" {
		return OutputString
	}
	return strings.ToLower(d.Output)
}

// FindAgent 按名称查找声明式 Agent
func (c *Config) FindAgent(name string) (AgentDefinition, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// Validate 验证配置，所有问题一次性返回
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port: invalid port %d", c.Server.HTTPPort)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		add("server.rate_limit_burst must be positive when rate limiting is enabled")
	}

	// LLM
	if c.LLM.Provider != "openai" {
		add("llm.provider: unsupported provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries must not be negative")
	}
	if !embedProviders[c.Embedding.Provider] {
		add("embedding.provider: unsupported provider %q", c.Embedding.Provider)
	}

	// Agent 默认值
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		add("agent.temperature must be between 0 and 2")
	}
	if c.Agent.MaxToolIterations <= 0 {
		add("agent.max_tool_iterations must be positive")
	}
	if c.Agent.MaxRepairs < 0 {
		add("agent.max_repairs must not be negative")
	}

	agents := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		errs = append(errs, a.validate(i)...)
		if a.Name == "" {
			continue
		}
		if agents[a.Name] {
			add("agents[%d]: duplicate agent %q", i, a.Name)
		}
		agents[a.Name] = true
	}

	// 记忆
	if c.Memory.MaxMessages <= 0 {
		add("memory.max_messages must be positive")
	}
	if c.Memory.OpTimeout < 0 {
		add("memory.op_timeout must not be negative")
	}
	if c.Memory.PersistTurns && !c.Memory.Persistent {
		add("memory.persist_turns requires memory.persistent")
	}
	if c.Memory.IndexTurns && !c.Memory.Semantic.Enabled {
		add("memory.index_turns requires memory.semantic.enabled")
	}

	routers := make(map[string]bool, len(c.Routers))
	for i, r := range c.Routers {
		if r.Name == "" {
			add("routers[%d]: name is required", i)
		} else if routers[r.Name] {
			add("routers[%d]: duplicate router %q", i, r.Name)
		}
		routers[r.Name] = true
		if !routerStrategies[r.Strategy] {
			add("routers[%d]: unknown strategy %q", i, r.Strategy)
		}
		if len(r.Routes) == 0 {
			add("routers[%d]: at least one route is required", i)
		}
		if r.FallbackOnMiss && r.Default == "" {
			add("routers[%d]: fallback_on_miss requires a default route", i)
		}
		for j, route := range r.Routes {
			if route.Name == "" {
				add("routers[%d].routes[%d]: name is required", i, j)
				continue
			}
			if !agents[route.Target()] {
				add("routers[%d].routes[%d]: unknown agent %q", i, j, route.Target())
			}
		}
	}

	// 存储
	if c.Memory.Persistent && !dbDrivers[c.Database.Driver] {
		add("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}

	// 日志与遥测
	if !logLevels[strings.ToLower(c.Log.Level)] {
		add("log.level: unknown level %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		add("log.format must be json or console")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

func (d AgentDefinition) validate(i int) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("agents[%d] (%s): "+format, append([]any{i, d.Name}, args...)...))
	}
	if d.Name == "" {
		add("name is required")
	}
	if strings.TrimSpace(d.Template) == "" {
		add("template is required")
	}
	if !outputKinds[d.OutputKind()] {
		add("unknown output kind %q", d.Output)
	}
	if len(d.Fields) > 0 && d.OutputKind() != OutputObject {
		add("fields are only allowed for object output")
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			add("field name is required")
			continue
		}
		if seen[f.Name] {
			add("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !fieldTypes[f.Type] {
			add("field %q: unknown type %q", f.Name, f.Type)
		}
	}
	if d.Temperature != nil && (*d.Temperature < 0 || *d.Temperature > 2) {
		add("temperature must be between 0 and 2")
	}
	if d.MaxRepairs != nil && *d.MaxRepairs < 0 {
		add("max_repairs must not be negative")
	}
	if d.RecallTopK < 0 || d.MemoryWindow < 0 || d.HistoryTokens < 0 {
		add("memory_window, history_tokens and recall_top_k must not be negative")
	}
	return errs
}
