package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentwrap/llm/embedding"
	"github.com/BaSui01/agentwrap/types"
)

// SemanticOptions 语义路由参数
type SemanticOptions struct {
	// Threshold 最低得分，0 表示不设阈值
	Threshold float64
	// Default 空查询的路由；FallbackOnMiss 时也用于低于阈值的查询
	Default string
	// FallbackOnMiss 低于阈值时改用 Default，而不是返回 NoRouteMatchedError
	FallbackOnMiss bool
}

// SemanticRouter 语义路由：路由示例惰性嵌入一次并缓存，
// 查询得分为与该路由各示例余弦相似度的最大值。
type SemanticRouter struct {
	name     string
	routes   []Route
	embedder embedding.Embedder
	opts     SemanticOptions
	logger   *zap.Logger

	mu      sync.Mutex
	vectors [][][]float32 // route -> example -> vector
}

// NewSemanticRouter creates a semantic router.
func NewSemanticRouter(name string, routes []Route, embedder embedding.Embedder, opts SemanticOptions, logger *zap.Logger) (*SemanticRouter, error) {
	if err := validateRoutes(name, routes, opts.Default); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("router %q: semantic strategy requires an embedder", name)
	}
	if opts.FallbackOnMiss && opts.Default == "" {
		return nil, fmt.Errorf("router %q: fallback_on_miss requires a default route", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticRouter{
		name:     name,
		routes:   append([]Route(nil), routes...),
		embedder: embedder,
		opts:     opts,
		logger:   logger.With(zap.String("component", "router"), zap.String("router", name)),
	}, nil
}

func (r *SemanticRouter) Name() string       { return r.name }
func (r *SemanticRouter) Strategy() Strategy { return StrategySemantic }
func (r *SemanticRouter) Routes() []Route    { return append([]Route(nil), r.routes...) }

func examplesOf(route Route) []string {
	if len(route.Examples) > 0 {
		return route.Examples
	}
	// 没有示例时用名称、描述与关键词代替
	text := strings.TrimSpace(route.Name + " " + route.Description + " " + strings.Join(route.Keywords, " "))
	return []string{text}
}

// ensureVectors 并发嵌入所有路由示例；失败可在下次调用重试
func (r *SemanticRouter) ensureVectors(ctx context.Context) ([][][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vectors != nil {
		return r.vectors, nil
	}

	vectors := make([][][]float32, len(r.routes))
	g, gctx := errgroup.WithContext(ctx)
	for i, route := range r.routes {
		g.Go(func() error {
			vecs, err := r.embedder.Embed(gctx, examplesOf(route))
			if err != nil {
				return fmt.Errorf("embed examples of route %q: %w", route.Name, err)
			}
			vectors[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.vectors = vectors
	r.logger.Debug("route examples embedded", zap.Int("routes", len(r.routes)))
	return vectors, nil
}

// Embed embeds text with the router's embedder.
func (r *SemanticRouter) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedding.EmbedOne(ctx, r.embedder, text)
}

// Scores returns one score per route, in declaration order.
func (r *SemanticRouter) Scores(ctx context.Context, vec []float32) ([]float64, error) {
	vectors, err := r.ensureVectors(ctx)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(r.routes))
	for i, examples := range vectors {
		best := 0.0
		for j, ex := range examples {
			s := embedding.Cosine(vec, ex)
			if j == 0 || s > best {
				best = s
			}
		}
		scores[i] = best
	}
	return scores, nil
}

// Route embeds query and picks the best-scoring route.
func (r *SemanticRouter) Route(ctx context.Context, query string, opts ...RouteOption) (*Decision, error) {
	o := applyOptions(opts)
	if strings.TrimSpace(query) == "" {
		return r.emptyQuery(), nil
	}
	vec, err := r.Embed(ctx, query)
	if err != nil {
		return nil, types.NewModelInvocationError("embedding", err)
	}
	scores, err := r.Scores(ctx, vec)
	if err != nil {
		return nil, types.NewModelInvocationError("embedding", err)
	}
	return r.decide(scores, o, StrategySemantic, "")
}

func (r *SemanticRouter) emptyQuery() *Decision {
	route := r.routes[0]
	if r.opts.Default != "" {
		route, _ = findRoute(r.routes, r.opts.Default)
	}
	return &Decision{
		Route:     route.Name,
		Agent:     route.Target(),
		Rationale: "empty query",
		Strategy:  StrategySemantic,
		Fallback:  true,
	}
}

// bestIndex 最高分；并列时取声明顺序靠前的
func bestIndex(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

func (r *SemanticRouter) threshold(o RouteOptions) float64 {
	if o.Threshold != nil {
		return *o.Threshold
	}
	return r.opts.Threshold
}

func (r *SemanticRouter) decide(scores []float64, o RouteOptions, strategy Strategy, note string) (*Decision, error) {
	i := bestIndex(scores)
	route, score := r.routes[i], scores[i]
	threshold := r.threshold(o)

	if score < threshold {
		if !r.opts.FallbackOnMiss {
			r.logger.Debug("no route above threshold",
				zap.String("best", route.Name), zap.Float64("score", score), zap.Float64("threshold", threshold))
			return nil, types.NewNoRouteMatchedError(route.Name, score, threshold)
		}
		def, _ := findRoute(r.routes, r.opts.Default)
		return &Decision{
			Route:     def.Name,
			Agent:     def.Target(),
			Score:     score,
			Rationale: fmt.Sprintf("best route %q scored %.3f below threshold %.3f; using default", route.Name, score, threshold),
			Strategy:  strategy,
			Fallback:  true,
		}, nil
	}

	rationale := fmt.Sprintf("highest similarity %.3f", score)
	if note != "" {
		rationale += "; " + note
	}
	return &Decision{
		Route:     route.Name,
		Agent:     route.Target(),
		Score:     score,
		Rationale: rationale,
		Strategy:  strategy,
	}, nil
}
