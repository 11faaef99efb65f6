package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/llm/tools"
	"github.com/BaSui01/agentwrap/types"
)

// Registry 显式的组合根：持有 Agent、路由器、工具注册中心与记忆管理器。
// 由 cmd 层构造后按引用传给 CLI / REST / MCP，不存在包级全局状态。
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]Runner
	routers map[string]router.Router
	tools   *tools.DefaultRegistry
	memory  *memory.Manager
	logger  *zap.Logger

	initialized bool
	closed      bool
}

// NewRegistry creates a registry. toolReg and mem may be nil.
func NewRegistry(toolReg *tools.DefaultRegistry, mem *memory.Manager, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if toolReg == nil {
		toolReg = tools.NewDefaultRegistry(logger)
	}
	return &Registry{
		agents:  make(map[string]Runner),
		routers: make(map[string]router.Router),
		tools:   toolReg,
		memory:  mem,
		logger:  logger.With(zap.String("component", "agent_registry")),
	}
}

// RegisterAgent registers an agent; names must be unique.
func (r *Registry) RegisterAgent(a Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("agent %q already registered", a.Name())
	}
	r.agents[a.Name()] = a
	r.logger.Info("agent registered", zap.String("agent", a.Name()))
	return nil
}

// Agent returns a registered agent.
func (r *Registry) Agent(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	if !ok {
		return nil, notFound("agent", name)
	}
	return a, nil
}

// Agents returns all agents sorted by name.
func (r *Registry) Agents() []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Runner, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RegisterRouter registers a router. Every route target must be a registered agent.
func (r *Registry) RegisterRouter(rt router.Router) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, exists := r.routers[rt.Name()]; exists {
		return fmt.Errorf("router %q already registered", rt.Name())
	}
	for _, route := range rt.Routes() {
		if _, ok := r.agents[route.Target()]; !ok {
			return fmt.Errorf("router %q: route %q targets unknown agent %q", rt.Name(), route.Name, route.Target())
		}
	}
	r.routers[rt.Name()] = rt
	r.logger.Info("router registered", zap.String("router", rt.Name()), zap.String("strategy", string(rt.Strategy())))
	return nil
}

// Router returns a registered router. An empty name selects the only
// router when exactly one is registered.
func (r *Registry) Router(name string) (router.Router, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" && len(r.routers) == 1 {
		for _, rt := range r.routers {
			return rt, nil
		}
	}
	rt, ok := r.routers[name]
	if !ok {
		return nil, notFound("router", name)
	}
	return rt, nil
}

// Routers returns router names sorted.
func (r *Registry) Routers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.routers))
	for n := range r.routers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tools returns the shared tool registry.
func (r *Registry) Tools() *tools.DefaultRegistry { return r.tools }

// Memory returns the shared memory manager, possibly nil.
func (r *Registry) Memory() *memory.Manager { return r.memory }

// Dispatch routes query with the named router and runs the chosen agent.
// The query is merged into input under "query" unless input already has it.
func (r *Registry) Dispatch(ctx context.Context, routerName, query string, input map[string]any, userID string) (*router.Decision, any, error) {
	rt, err := r.Router(routerName)
	if err != nil {
		return nil, nil, err
	}
	decision, err := rt.Route(ctx, query, router.WithUser(userID))
	if err != nil {
		return nil, nil, err
	}
	a, err := r.Agent(decision.Agent)
	if err != nil {
		return decision, nil, err
	}

	merged := make(map[string]any, len(input)+1)
	for k, v := range input {
		merged[k] = v
	}
	if _, ok := merged["query"]; !ok {
		merged["query"] = query
	}
	out, err := a.Run(ctx, merged, userID)
	return decision, out, err
}

// Init opens the memory manager. Calling it twice is a no-op.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if r.initialized {
		return nil
	}
	if r.memory != nil {
		if err := r.memory.Open(ctx); err != nil {
			return err
		}
	}
	r.initialized = true
	r.logger.Info("registry initialized",
		zap.Int("agents", len(r.agents)),
		zap.Int("routers", len(r.routers)),
		zap.Int("tools", len(r.tools.List())),
		zap.Bool("memory", r.memory != nil),
	)
	return nil
}

// Close releases the memory manager. Idempotent.
func (r *Registry) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if r.memory != nil {
		if err := r.memory.Close(); err != nil {
			r.logger.Warn("memory close failed", zap.Error(err))
			return types.NewStorageError("close", err)
		}
	}
	r.logger.Info("registry closed")
	return nil
}
