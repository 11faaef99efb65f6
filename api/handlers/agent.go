package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent"
	"github.com/BaSui01/agentwrap/api"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// Agent Handler
// =============================================================================

// AgentHandler 列出与调用已注册的 Agent
type AgentHandler struct {
	registry *agent.Registry
	logger   *zap.Logger
}

// NewAgentHandler creates an Agent handler
func NewAgentHandler(registry *agent.Registry, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "agent_handler")),
	}
}

// HandleListAgents lists all registered agents
// @Summary List agents
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]agent.Info} "Agent list"
// @Router /v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	runners := h.registry.Agents()
	result := make([]agent.Info, 0, len(runners))
	for _, a := range runners {
		result = append(result, a.Info())
	}
	WriteSuccess(w, r, result)
}

// HandleGetAgent gets a single agent's description
// @Summary Get agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=agent.Info} "Agent info"
// @Failure 404 {object} Response "Agent not found"
// @Router /v1/agents/{name} [get]
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, r, a.Info())
}

// HandleInvokeAgent runs one agent invocation
// @Summary Invoke agent
// @Tags agent
// @Accept json
// @Produce json
// @Param name path string true "Agent name"
// @Param request body api.InvokeRequest true "Template variables"
// @Success 200 {object} Response{data=api.InvokeResponse} "Typed output"
// @Failure 400 {object} Response "Template error"
// @Failure 422 {object} Response "Unparsable model output"
// @Failure 502 {object} Response "Model invocation failed"
// @Failure 508 {object} Response "Tool loop exceeded"
// @Router /v1/agents/{name}/invoke [post]
func (h *AgentHandler) HandleInvokeAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req api.InvokeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	start := time.Now()
	ctx := types.WithAgent(r.Context(), a.Name())
	out, err := a.Run(ctx, req.Input, userFrom(r, req.UserID))
	if err != nil {
		HandleError(w, r, err, h.logger.With(zap.String("agent", a.Name())))
		return
	}

	WriteSuccess(w, r, api.InvokeResponse{
		Agent:    a.Name(),
		Output:   out,
		Duration: time.Since(start).String(),
	})
}

func (h *AgentHandler) lookup(w http.ResponseWriter, r *http.Request) (agent.Runner, bool) {
	name := r.PathValue("name")
	if name == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "agent name is required", h.logger)
		return nil, false
	}
	a, err := h.registry.Agent(name)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return nil, false
	}
	return a, true
}
