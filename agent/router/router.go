package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/llm/embedding"
)

// Strategy 路由策略
type Strategy string

const (
	StrategyKeyword     Strategy = "keyword"
	StrategySemantic    Strategy = "semantic"
	StrategyMemoryAware Strategy = "memory_aware"
)

// Route 一条路由：命中后交给 Agent 处理。
type Route struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	// Agent 目标智能体，为空时与 Name 相同
	Agent    string   `yaml:"agent" json:"agent,omitempty"`
	Keywords []string `yaml:"keywords" json:"keywords,omitempty"`
	Examples []string `yaml:"examples" json:"examples,omitempty"`
}

// Target returns the agent that serves the route.
func (r Route) Target() string {
	if r.Agent != "" {
		return r.Agent
	}
	return r.Name
}

// Decision 路由结果，不持久化。
type Decision struct {
	Route     string   `json:"route"`
	Agent     string   `json:"agent"`
	Score     float64  `json:"score"`
	Rationale string   `json:"rationale"`
	Strategy  Strategy `json:"strategy"`
	Fallback  bool     `json:"fallback,omitempty"`
}

// RouteOptions per-call options.
type RouteOptions struct {
	UserID string
	// Threshold overrides the configured minimum score when non-nil.
	Threshold *float64
}

// RouteOption configures a single Route call.
type RouteOption func(*RouteOptions)

// WithUser scopes memory-aware routing to a user.
func WithUser(id string) RouteOption {
	return func(o *RouteOptions) { o.UserID = id }
}

// WithThreshold overrides the score threshold for one call.
func WithThreshold(v float64) RouteOption {
	return func(o *RouteOptions) { o.Threshold = &v }
}

func applyOptions(opts []RouteOption) RouteOptions {
	var o RouteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Router 查询路由接口
type Router interface {
	Name() string
	Strategy() Strategy
	Routes() []Route
	Route(ctx context.Context, query string, opts ...RouteOption) (*Decision, error)
}

// Config 声明式路由配置
type Config struct {
	Name      string   `yaml:"name" json:"name"`
	Strategy  Strategy `yaml:"strategy" json:"strategy"`
	Threshold float64  `yaml:"threshold" json:"threshold"`
	// Default 未命中时的回退路由名
	Default string `yaml:"default" json:"default,omitempty"`
	// FallbackOnMiss 语义策略低于阈值时回退到 Default
	FallbackOnMiss bool    `yaml:"fallback_on_miss" json:"fallback_on_miss,omitempty"`
	Routes         []Route `yaml:"routes" json:"routes"`

	// memory_aware
	HistoryTurns    int     `yaml:"history_turns" json:"history_turns,omitempty"`
	HistoryWeight   float64 `yaml:"history_weight" json:"history_weight,omitempty"`
	ContinuityBonus float64 `yaml:"continuity_bonus" json:"continuity_bonus,omitempty"`
}

// New builds a router from its declarative config. The embedder is needed
// by the semantic strategies and mem by memory_aware.
func New(cfg Config, embedder embedding.Embedder, mem *memory.Manager, logger *zap.Logger) (Router, error) {
	switch cfg.Strategy {
	case StrategyKeyword, "":
		return NewKeywordRouter(cfg.Name, cfg.Routes, cfg.Default, logger)
	case StrategySemantic:
		return NewSemanticRouter(cfg.Name, cfg.Routes, embedder, SemanticOptions{
			Threshold:      cfg.Threshold,
			Default:        cfg.Default,
			FallbackOnMiss: cfg.FallbackOnMiss,
		}, logger)
	case StrategyMemoryAware:
		inner, err := NewSemanticRouter(cfg.Name, cfg.Routes, embedder, SemanticOptions{
			Threshold:      cfg.Threshold,
			Default:        cfg.Default,
			FallbackOnMiss: cfg.FallbackOnMiss,
		}, logger)
		if err != nil {
			return nil, err
		}
		if mem == nil {
			return nil, fmt.Errorf("router %q: memory_aware strategy requires a memory manager", cfg.Name)
		}
		return NewMemoryAwareRouter(inner, mem, MemoryOptions{
			HistoryTurns:    cfg.HistoryTurns,
			HistoryWeight:   cfg.HistoryWeight,
			ContinuityBonus: cfg.ContinuityBonus,
		}, logger), nil
	default:
		return nil, fmt.Errorf("router %q: unknown strategy %q", cfg.Name, cfg.Strategy)
	}
}

func validateRoutes(name string, routes []Route, def string) error {
	if len(routes) == 0 {
		return fmt.Errorf("router %q: no routes", name)
	}
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if r.Name == "" {
			return fmt.Errorf("router %q: route without name", name)
		}
		if seen[r.Name] {
			return fmt.Errorf("router %q: duplicate route %q", name, r.Name)
		}
		seen[r.Name] = true
	}
	if def != "" && !seen[def] {
		return fmt.Errorf("router %q: default route %q not declared", name, def)
	}
	return nil
}

func findRoute(routes []Route, name string) (Route, bool) {
	for _, r := range routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}
