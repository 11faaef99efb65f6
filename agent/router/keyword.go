package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// KeywordRouter 关键词路由：按声明顺序匹配，首个命中生效。
type KeywordRouter struct {
	name     string
	routes   []Route
	keywords [][]string
	def      string
	logger   *zap.Logger
}

// NewKeywordRouter creates a keyword router. def may be empty.
func NewKeywordRouter(name string, routes []Route, def string, logger *zap.Logger) (*KeywordRouter, error) {
	if err := validateRoutes(name, routes, def); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	kw := make([][]string, len(routes))
	for i, r := range routes {
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw[i] = append(kw[i], k)
			}
		}
	}
	return &KeywordRouter{
		name:     name,
		routes:   append([]Route(nil), routes...),
		keywords: kw,
		def:      def,
		logger:   logger.With(zap.String("component", "router"), zap.String("router", name)),
	}, nil
}

func (r *KeywordRouter) Name() string       { return r.name }
func (r *KeywordRouter) Strategy() Strategy { return StrategyKeyword }
func (r *KeywordRouter) Routes() []Route    { return append([]Route(nil), r.routes...) }

// Route matches query against route keywords.
func (r *KeywordRouter) Route(_ context.Context, query string, _ ...RouteOption) (*Decision, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	if q != "" {
		for i, route := range r.routes {
			for _, k := range r.keywords[i] {
				if strings.Contains(q, k) {
					r.logger.Debug("keyword route matched", zap.String("route", route.Name), zap.String("keyword", k))
					return &Decision{
						Route:     route.Name,
						Agent:     route.Target(),
						Score:     1,
						Rationale: fmt.Sprintf("matched keyword %q", k),
						Strategy:  StrategyKeyword,
					}, nil
				}
			}
		}
	}

	fallback := r.def
	reason := "no keyword matched; using default route"
	if q == "" {
		reason = "empty query; using default route"
		if fallback == "" {
			fallback = r.routes[0].Name
			reason = "empty query; using first route"
		}
	}
	if fallback == "" {
		return nil, types.NewNoRouteMatchedError("", 0, 0)
	}
	route, _ := findRoute(r.routes, fallback)
	return &Decision{
		Route:     route.Name,
		Agent:     route.Target(),
		Rationale: reason,
		Strategy:  StrategyKeyword,
		Fallback:  true,
	}, nil
}
