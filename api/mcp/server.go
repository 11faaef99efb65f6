package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent"
	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/types"
)

// Options MCP 服务器元数据
type Options struct {
	Name         string
	Version      string
	Instructions string
}

// Server 把 Agent 注册中心暴露为 MCP 工具
type Server struct {
	registry *agent.Registry
	mcp      *server.MCPServer
	logger   *zap.Logger
}

// NewServer 创建 MCP 服务器并注册全部工具
func NewServer(registry *agent.Registry, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Name == "" {
		opts.Name = "agentwrap"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	serverOpts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}
	if opts.Instructions != "" {
		serverOpts = append(serverOpts, server.WithInstructions(opts.Instructions))
	}

	s := &Server{
		registry: registry,
		mcp:      server.NewMCPServer(opts.Name, opts.Version, serverOpts...),
		logger:   logger.With(zap.String("component", "mcp")),
	}
	s.register()
	return s
}

// MCPServer 返回底层 mcp-go 服务器
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio 在 in/out 上提供 stdio 传输，直到 ctx 取消或输入结束
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	s.logger.Info("serving MCP over stdio", zap.Int("agents", len(s.registry.Agents())))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) register() {
	s.mcp.AddTool(mcpgo.NewTool("list_agents",
		mcpgo.WithDescription("List the registered agents with their template placeholders and output type."),
		mcpgo.WithReadOnlyHintAnnotation(true),
	), s.handleListAgents)

	s.mcp.AddTool(mcpgo.NewTool("invoke_agent",
		mcpgo.WithDescription("Invoke an agent. input holds the template variables as a JSON object."),
		mcpgo.WithString("agent", mcpgo.Required(), mcpgo.Description("Agent name")),
		mcpgo.WithObject("input", mcpgo.Description("Template variables, as an object or a JSON string")),
		mcpgo.WithString("user_id", mcpgo.Description("Memory user; defaults to \"default\"")),
	), s.handleInvokeAgent)

	s.mcp.AddTool(mcpgo.NewTool("route_query",
		mcpgo.WithDescription("Route a query to the best agent and invoke it."),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("User query")),
		mcpgo.WithString("router", mcpgo.Description("Router name; optional when only one router exists")),
		mcpgo.WithString("user_id", mcpgo.Description("Memory user")),
		mcpgo.WithBoolean("decide_only", mcpgo.Description("Return the routing decision without invoking the agent")),
	), s.handleRouteQuery)

	s.mcp.AddTool(mcpgo.NewTool("memory_store",
		mcpgo.WithDescription("Store a fact in the long-term memory of an agent scope."),
		mcpgo.WithString("agent", mcpgo.Required(), mcpgo.Description("Agent scope")),
		mcpgo.WithString("content", mcpgo.Required(), mcpgo.Description("Fact to remember")),
		mcpgo.WithString("key", mcpgo.Description("Optional stable key; defaults to a content hash")),
		mcpgo.WithString("user_id", mcpgo.Description("Memory user")),
	), s.handleMemoryStore)

	s.mcp.AddTool(mcpgo.NewTool("memory_recall",
		mcpgo.WithDescription("Semantically search the memory of an agent scope."),
		mcpgo.WithString("agent", mcpgo.Required(), mcpgo.Description("Agent scope")),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("Search query")),
		mcpgo.WithNumber("top_k", mcpgo.Description("Maximum results"), mcpgo.DefaultNumber(5)),
		mcpgo.WithString("user_id", mcpgo.Description("Memory user")),
		mcpgo.WithReadOnlyHintAnnotation(true),
	), s.handleMemoryRecall)
}

// =============================================================================
// Tool handlers
// =============================================================================

func (s *Server) handleListAgents(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	runners := s.registry.Agents()
	infos := make([]agent.Info, 0, len(runners))
	for _, a := range runners {
		infos = append(infos, a.Info())
	}
	return jsonResult(map[string]any{"agents": infos, "routers": s.registry.Routers()})
}

func (s *Server) handleInvokeAgent(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	name, err := req.RequireString("agent")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	input, err := inputArg(req)
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	a, err := s.registry.Agent(name)
	if err != nil {
		return s.toolError("invoke_agent", err), nil
	}

	out, err := a.Run(types.WithAgent(ctx, name), input, req.GetString("user_id", ""))
	if err != nil {
		return s.toolError("invoke_agent", err), nil
	}
	return jsonResult(map[string]any{"agent": name, "output": out})
}

func (s *Server) handleRouteQuery(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcpgo.NewToolResultError("query is required"), nil
	}
	routerName := req.GetString("router", "")
	user := req.GetString("user_id", "")

	if req.GetBool("decide_only", false) {
		rt, err := s.registry.Router(routerName)
		if err != nil {
			return s.toolError("route_query", err), nil
		}
		d, err := rt.Route(ctx, query, router.WithUser(user))
		if err != nil {
			return s.toolError("route_query", err), nil
		}
		return jsonResult(map[string]any{"decision": d})
	}

	d, out, err := s.registry.Dispatch(ctx, routerName, query, nil, user)
	if err != nil {
		return s.toolError("route_query", err), nil
	}
	return jsonResult(map[string]any{"decision": d, "output": out})
}

func (s *Server) handleMemoryStore(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	mem := s.registry.Memory()
	if mem == nil {
		return mcpgo.NewToolResultError("memory is not configured"), nil
	}
	agentName, err := req.RequireString("agent")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	var meta map[string]string
	if key := req.GetString("key", ""); key != "" {
		meta = map[string]string{memory.MetaKey: key}
	}

	scope := types.NewMemoryScope(req.GetString("user_id", ""), agentName)
	key, err := mem.Store(ctx, scope, content, meta)
	if err != nil {
		return s.toolError("memory_store", err), nil
	}
	return jsonResult(map[string]any{"key": key, "scope": scope})
}

func (s *Server) handleMemoryRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	mem := s.registry.Memory()
	if mem == nil {
		return mcpgo.NewToolResultError("memory is not configured"), nil
	}
	agentName, err := req.RequireString("agent")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	scope := types.NewMemoryScope(req.GetString("user_id", ""), agentName)
	records, err := mem.Recall(ctx, scope, query, req.GetInt("top_k", 5))
	if err != nil {
		return s.toolError("memory_recall", err), nil
	}
	return jsonResult(map[string]any{"scope": scope, "records": records})
}

// =============================================================================
// helpers
// =============================================================================

// inputArg 接受对象或 JSON 字符串形式的 input
func inputArg(req mcpgo.CallToolRequest) (map[string]any, error) {
	raw, ok := req.GetArguments()["input"]
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("input must be a JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("input must be a JSON object, got %T", raw)
	}
}

func (s *Server) toolError(tool string, err error) *mcpgo.CallToolResult {
	s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
	if typed, ok := types.AsError(err); ok {
		msg := typed.Error()
		if typed.Raw != "" {
			msg += "\nraw output: " + typed.Raw
		}
		return mcpgo.NewToolResultError(msg)
	}
	return mcpgo.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcpgo.NewToolResultText(string(data)), nil
}
