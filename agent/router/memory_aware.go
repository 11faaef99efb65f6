package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/llm/embedding"
	"github.com/BaSui01/agentwrap/types"
)

// History 会话历史读写，由 memory.Manager 实现
type History interface {
	Recent(ctx context.Context, scope types.MemoryScope, n int) ([]memory.Turn, error)
	AppendTurns(ctx context.Context, scope types.MemoryScope, turns ...memory.Turn) error
}

// MemoryOptions 记忆感知路由参数
type MemoryOptions struct {
	// HistoryTurns 参与嵌入的最近轮次数
	HistoryTurns int
	// HistoryWeight 历史向量权重（查询权重为 1）
	HistoryWeight float64
	// ContinuityBonus 上一次路由的加分
	ContinuityBonus float64
}

// DefaultMemoryOptions returns the defaults applied to zero fields.
func DefaultMemoryOptions() MemoryOptions {
	return MemoryOptions{HistoryTurns: 4, HistoryWeight: 0.5, ContinuityBonus: 0.1}
}

// MemoryAwareRouter 在语义路由上融合作用域内最近的会话，并偏向上一次的路由。
// 每次决策以 system 轮次（带 route 元数据）写回记忆。
type MemoryAwareRouter struct {
	inner   *SemanticRouter
	history History
	opts    MemoryOptions
	logger  *zap.Logger

	mu     sync.Mutex
	active map[types.MemoryScope]string
}

// NewMemoryAwareRouter wraps a semantic router with conversation memory.
func NewMemoryAwareRouter(inner *SemanticRouter, history History, opts MemoryOptions, logger *zap.Logger) *MemoryAwareRouter {
	def := DefaultMemoryOptions()
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = def.HistoryTurns
	}
	if opts.HistoryWeight <= 0 {
		opts.HistoryWeight = def.HistoryWeight
	}
	if opts.ContinuityBonus < 0 {
		opts.ContinuityBonus = 0
	} else if opts.ContinuityBonus == 0 {
		opts.ContinuityBonus = def.ContinuityBonus
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryAwareRouter{
		inner:   inner,
		history: history,
		opts:    opts,
		logger:  logger.With(zap.String("component", "router"), zap.String("router", inner.Name())),
		active:  make(map[types.MemoryScope]string),
	}
}

func (r *MemoryAwareRouter) Name() string       { return r.inner.Name() }
func (r *MemoryAwareRouter) Strategy() Strategy { return StrategyMemoryAware }
func (r *MemoryAwareRouter) Routes() []Route    { return r.inner.Routes() }

// Scope returns the memory scope the router keeps for a user.
func (r *MemoryAwareRouter) Scope(userID string) types.MemoryScope {
	return types.NewMemoryScope(userID, "router:"+r.inner.Name())
}

// Route scores query blended with recent history and applies the
// continuity bonus to the scope's previously active route.
func (r *MemoryAwareRouter) Route(ctx context.Context, query string, opts ...RouteOption) (*Decision, error) {
	o := applyOptions(opts)
	scope := r.Scope(o.UserID)

	turns, err := r.history.Recent(ctx, scope, r.opts.HistoryTurns*2)
	if err != nil {
		// 历史不可用时退化为纯语义路由
		r.logger.Warn("routing without history", zap.String("scope", scope.Namespace()), zap.Error(err))
		turns = nil
	}

	var past []string
	previous := r.previousRoute(scope, turns)
	for _, t := range turns {
		if t.Role == types.RoleUser {
			past = append(past, t.Content)
		}
	}
	if len(past) > r.opts.HistoryTurns {
		past = past[len(past)-r.opts.HistoryTurns:]
	}

	q := strings.TrimSpace(query)
	if q == "" && len(past) == 0 {
		d := r.inner.emptyQuery()
		d.Strategy = StrategyMemoryAware
		return d, nil
	}

	vec, err := r.blend(ctx, q, past)
	if err != nil {
		return nil, types.NewModelInvocationError("embedding", err)
	}
	scores, err := r.inner.Scores(ctx, vec)
	if err != nil {
		return nil, types.NewModelInvocationError("embedding", err)
	}

	note := ""
	if previous != "" {
		for i, route := range r.inner.routes {
			if route.Name == previous {
				scores[i] += r.opts.ContinuityBonus
				note = fmt.Sprintf("continuity bonus %.2f for %q", r.opts.ContinuityBonus, previous)
			}
		}
	}

	d, err := r.inner.decide(scores, o, StrategyMemoryAware, note)
	if err != nil {
		return nil, err
	}
	if q != "" {
		r.record(ctx, scope, q, d)
	}
	return d, nil
}

// blend 查询向量权重 1，历史向量权重 HistoryWeight，结果归一化
func (r *MemoryAwareRouter) blend(ctx context.Context, query string, past []string) ([]float32, error) {
	texts := make([]string, 0, 2)
	if query != "" {
		texts = append(texts, query)
	}
	if len(past) > 0 {
		texts = append(texts, strings.Join(past, "\n"))
	}
	vecs, err := r.inner.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, embedding.ErrCountMismatch
	}

	out := make([]float32, len(vecs[0]))
	if query != "" {
		copy(out, vecs[0])
	}
	if len(past) > 0 {
		h := vecs[len(vecs)-1]
		w := float32(r.opts.HistoryWeight)
		for i := range out {
			if i < len(h) {
				out[i] += w * h[i]
			}
		}
	}
	return embedding.Normalize(out), nil
}

// previousRoute 优先使用进程内记录，否则从记忆中最近的路由轮次恢复
func (r *MemoryAwareRouter) previousRoute(scope types.MemoryScope, turns []memory.Turn) string {
	r.mu.Lock()
	prev, ok := r.active[scope]
	r.mu.Unlock()
	if ok {
		return prev
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if route := turns[i].Metadata[memory.MetaRoute]; route != "" {
			return route
		}
	}
	return ""
}

func (r *MemoryAwareRouter) record(ctx context.Context, scope types.MemoryScope, query string, d *Decision) {
	r.mu.Lock()
	r.active[scope] = d.Route
	r.mu.Unlock()

	user := memory.NewTurn(types.RoleUser, query).WithMetadata(memory.MetaSource, "router")
	decision := memory.NewTurn(types.RoleSystem, "routed to "+d.Route).
		WithMetadata(memory.MetaRoute, d.Route).
		WithMetadata(memory.MetaSource, "router")
	if err := r.history.AppendTurns(ctx, scope, user, decision); err != nil {
		r.logger.Warn("route decision not recorded", zap.String("scope", scope.Namespace()), zap.Error(err))
	}
}
