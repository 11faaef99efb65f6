package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/config"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/testutil/mocks"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

// replyByPrompt 按最后一条用户消息选择回复
func replyByPrompt() *mocks.ScriptedProvider {
	return mocks.NewScriptedProvider().WithFallback(func(req *llm.ChatRequest) mocks.Step {
		last := ""
		for _, m := range req.Messages {
			if m.Role == types.RoleUser {
				last = m.Content
			}
		}
		switch {
		case strings.HasPrefix(last, "Count"):
			if strings.Contains(last, "apples") {
				return mocks.Text("several")
			}
			return mocks.Text("3")
		case strings.HasPrefix(last, "Extract"):
			return mocks.Text(`{"name": "Alice", "age": 30}`)
		default:
			return mocks.Text("a short summary")
		}
	})
}

func intPtr(n int) *int { return &n }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Server.RateLimitRPS = 0

	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "memory.db")
	cfg.Memory.Persistent = true
	cfg.Memory.PersistTurns = true
	cfg.Memory.Semantic.Enabled = true
	cfg.Memory.IndexTurns = true
	cfg.Embedding.Dimensions = 64

	cfg.Agents = []config.AgentDefinition{
		{
			Name:        "summarize",
			Description: "Summarize a topic",
			Template:    "Summarize {{.topic}}",
			Memory:      true,
			Cache:       true,
		},
		{
			Name:       "count",
			Template:   "Count {{.items}}",
			Output:     config.OutputInteger,
			MaxRepairs: intPtr(0),
		},
		{
			Name:     "extract",
			Template: "Extract the person from {{.text}}",
			Output:   config.OutputObject,
			Fields: []config.OutputField{
				{Name: "name", Type: "string", Required: true},
				{Name: "age", Type: "integer"},
			},
		},
	}
	cfg.Routers = []config.RouterDefinition{{
		Name:     "main",
		Strategy: "keyword",
		Default:  "summarize",
		Routes: []config.RouteDefinition{
			{Name: "counting", Agent: "count", Keywords: []string{"how many"}},
			{Name: "summarize"},
		},
	}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, p llm.Provider) *App {
	t.Helper()
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t), zap.NewNop(), WithProvider(p))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })
	return app
}

// =============================================================================
// 🧩 App 装配
// =============================================================================

func TestNewApp_RegistersDeclarativeAgents(t *testing.T) {
	app := newTestApp(t, replyByPrompt())

	names := []string{}
	for _, a := range app.registry.Agents() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"count", "extract", "summarize"}, names)
	assert.Equal(t, []string{"main"}, app.registry.Routers())
	assert.NotNil(t, app.pool)
	assert.Nil(t, app.redis)

	a, err := app.registry.Agent("summarize")
	require.NoError(t, err)
	info := a.Info()
	assert.Equal(t, "gpt-4o-mini", info.Model)
	assert.True(t, info.Cache)
	assert.Equal(t, []string{"topic"}, info.Placeholders)

	count, err := app.registry.Agent("count")
	require.NoError(t, err)
	assert.Equal(t, "scalar", count.Info().Output)
}

func TestNewApp_ObjectFieldsSchemaInSystemPrompt(t *testing.T) {
	p := replyByPrompt()
	app := newTestApp(t, p)
	ctx := context.Background()

	a, err := app.registry.Agent("extract")
	require.NoError(t, err)
	out, err := a.Run(ctx, map[string]any{"text": "Alice is 30"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Alice", "age": float64(30)}, out)

	req := p.LastRequest()
	require.NotNil(t, req)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, `"required":["name"]`)
}

func TestNewApp_DispatchAndMemory(t *testing.T) {
	app := newTestApp(t, replyByPrompt())
	ctx := context.Background()

	d, out, err := app.registry.Dispatch(ctx, "main", "how many apples are left?", map[string]any{"items": "pears"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "count", d.Agent)
	assert.Equal(t, int64(3), out)

	d, out, err = app.registry.Dispatch(ctx, "", "tell me about goroutines", map[string]any{"topic": "goroutines"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "summarize", d.Agent)
	assert.True(t, d.Fallback)
	assert.Equal(t, "a short summary", out)

	// summarize 开启了记忆，对话轮次写入工作记忆与持久存储
	stats := app.memory.Stats(ctx)
	assert.Equal(t, "READY", stats.State)
	assert.Positive(t, stats.TotalRecords)
}

func TestNewApp_InvalidAgentFailsAndReleases(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents[0].Template = "Summarize {{.topic"

	_, err := NewApp(context.Background(), cfg, zap.NewNop(), WithProvider(replyByPrompt()))
	require.Error(t, err)
}

func TestApp_Close(t *testing.T) {
	ctx := context.Background()
	app, err := NewApp(ctx, testConfig(t), zap.NewNop(), WithProvider(replyByPrompt()))
	require.NoError(t, err)

	require.NoError(t, app.Close(ctx))
	assert.Equal(t, memory.StateClosed, app.memory.State())
	// 重复关闭无副作用
	assert.NoError(t, app.Close(ctx))
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_Handler(t *testing.T) {
	app := newTestApp(t, replyByPrompt())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := app.Handler(ctx)

	t.Run("health", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "database")
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("version", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/version", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), Version)
	})

	t.Run("invoke", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/agents/count/invoke", map[string]any{
			"input": map[string]any{"items": "pears"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Success bool `json:"success"`
			Data    struct {
				Agent  string `json:"agent"`
				Output int    `json:"output"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "count", resp.Data.Agent)
		assert.Equal(t, 3, resp.Data.Output)
	})

	t.Run("parse failure maps to 422", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/agents/count/invoke", map[string]any{
			"input": map[string]any{"items": "apples"},
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), string(types.ErrResponseParse))
	})

	t.Run("unknown agent", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/agents/nope/invoke", map[string]any{"input": map[string]any{}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "agentwrap_http_requests_total")
		assert.Contains(t, body, "agentwrap_agent_invocations_total")
	})
}

func TestApp_HandlerRequiresJWTWhenConfigured(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Server.JWT.Secret = "test-secret"
	app, err := NewApp(ctx, cfg, zap.NewNop(), WithProvider(replyByPrompt()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })
	h := app.Handler(ctx)

	assert.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, h, http.MethodGet, "/v1/agents", nil).Code)
}

// =============================================================================
// 📜 声明式 Agent 辅助函数
// =============================================================================

func TestFieldsSchema(t *testing.T) {
	s, err := fieldsSchema([]config.OutputField{
		{Name: "sentiment", Type: "string", Enum: []string{"positive", "negative"}, Required: true},
		{Name: "score", Type: "number", Description: "confidence"},
	})
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"sentiment"}, schema["required"])

	props := schema["properties"].(map[string]any)
	assert.Equal(t, []any{"positive", "negative"}, props["sentiment"].(map[string]any)["enum"])
	assert.Equal(t, "confidence", props["score"].(map[string]any)["description"])
	// 字段顺序与声明一致
	assert.Less(t, strings.Index(s, "sentiment"), strings.Index(s, "score"))
}

func TestBuildAgent_UnknownKind(t *testing.T) {
	_, err := buildAgent(agentDeps{logger: zap.NewNop()}, config.AgentDefinition{Name: "x", Template: "x", Output: "date"})
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
