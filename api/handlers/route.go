package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/api"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧭 路由 Handler
// =============================================================================

// DecisionRecorder 记录路由决策（metrics.Collector 实现）
type DecisionRecorder interface {
	RecordRouteDecision(router, route, strategy string, fallback bool)
}

// RouteHandler 处理 /v1/route 与 /v1/route/invoke
type RouteHandler struct {
	registry *agent.Registry
	recorder DecisionRecorder
	logger   *zap.Logger
}

// NewRouteHandler 创建路由 handler，recorder 可为 nil
func NewRouteHandler(registry *agent.Registry, recorder DecisionRecorder, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{
		registry: registry,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "route_handler")),
	}
}

// HandleListRouters GET /v1/routers
func (h *RouteHandler) HandleListRouters(w http.ResponseWriter, r *http.Request) {
	type routerInfo struct {
		Name     string         `json:"name"`
		Strategy string         `json:"strategy"`
		Routes   []router.Route `json:"routes"`
	}
	names := h.registry.Routers()
	out := make([]routerInfo, 0, len(names))
	for _, name := range names {
		rt, err := h.registry.Router(name)
		if err != nil {
			continue
		}
		out = append(out, routerInfo{Name: rt.Name(), Strategy: string(rt.Strategy()), Routes: rt.Routes()})
	}
	WriteSuccess(w, r, out)
}

// HandleRoute 只做路由决策
// @Summary Route a query
// @Tags route
// @Accept json
// @Produce json
// @Param request body api.RouteRequest true "Query"
// @Success 200 {object} Response{data=api.RouteDecision} "Decision"
// @Failure 404 {object} Response "No route matched"
// @Router /v1/route [post]
func (h *RouteHandler) HandleRoute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	rt, err := h.registry.Router(req.Router)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	d, err := rt.Route(r.Context(), req.Query, router.WithUser(userFrom(r, req.UserID)))
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	h.record(rt.Name(), d)
	WriteSuccess(w, r, toDecision(rt.Name(), d))
}

// HandleRouteInvoke 路由后调用选中的 Agent
// @Summary Route and invoke
// @Tags route
// @Accept json
// @Produce json
// @Param request body api.RouteRequest true "Query and extra input"
// @Success 200 {object} Response{data=api.RouteInvokeResponse} "Decision and output"
// @Router /v1/route/invoke [post]
func (h *RouteHandler) HandleRouteInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	rt, err := h.registry.Router(req.Router)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}

	start := time.Now()
	d, out, err := h.registry.Dispatch(r.Context(), rt.Name(), req.Query, req.Input, userFrom(r, req.UserID))
	if d != nil {
		h.record(rt.Name(), d)
	}
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.RouteInvokeResponse{
		Decision: toDecision(rt.Name(), d),
		Output:   out,
		Duration: time.Since(start).String(),
	})
}

func (h *RouteHandler) decode(w http.ResponseWriter, r *http.Request) (api.RouteRequest, bool) {
	var req api.RouteRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "query is required", h.logger)
		return req, false
	}
	return req, true
}

func (h *RouteHandler) record(name string, d *router.Decision) {
	if h.recorder != nil {
		h.recorder.RecordRouteDecision(name, d.Route, string(d.Strategy), d.Fallback)
	}
}

func toDecision(name string, d *router.Decision) api.RouteDecision {
	return api.RouteDecision{
		Router:    name,
		Route:     d.Route,
		Agent:     d.Agent,
		Score:     d.Score,
		Strategy:  string(d.Strategy),
		Fallback:  d.Fallback,
		Rationale: d.Rationale,
	}
}
