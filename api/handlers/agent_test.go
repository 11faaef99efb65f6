package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent"
	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/llm/tools"
	"github.com/BaSui01/agentwrap/testutil/mocks"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧪 测试夹具
// =============================================================================

type fixture struct {
	registry *agent.Registry
	memory   *memory.Manager
	mux      *http.ServeMux
	decided  []string
	ops      []string
}

func (f *fixture) RecordRouteDecision(_, route, _ string, _ bool) {
	f.decided = append(f.decided, route)
}

func (f *fixture) RecordMemoryOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	f.ops = append(f.ops, op+":"+status)
}

func fixedReply(reply string) *mocks.ScriptedProvider {
	return mocks.NewScriptedProvider().WithFallback(func(*llm.ChatRequest) mocks.Step { return mocks.Text(reply) })
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := memory.NewManager(memory.DefaultConfig(), memory.WithLogger(zap.NewNop()))
	reg := agent.NewRegistry(nil, mem, zap.NewNop())
	require.NoError(t, reg.Init(ctx))
	t.Cleanup(func() { _ = reg.Close(ctx) })

	summarize, err := agent.New[map[string]any, string]("summarize").
		Description("Summarize a topic").
		Template("Summarize {{.topic}}").
		Memory(mem).
		Provider(fixedReply("a short summary")).
		Build()
	require.NoError(t, err)

	count, err := agent.New[map[string]any, int64]("count").
		Template("Count {{.items}}").
		MaxRepairs(0).
		Provider(fixedReply("several, probably")).
		Build()
	require.NoError(t, err)

	n := 0
	looping := mocks.NewScriptedProvider().WithFallback(func(*llm.ChatRequest) mocks.Step {
		n++
		return mocks.CallTool(fmt.Sprintf("c%d", n), "calculator", tools.CalculatorArgs{Expression: "1+1"})
	})
	loop, err := agent.New[map[string]any, string]("loop").
		Template("{{.query}}").
		Tool(tools.Calculator()).
		MaxToolIterations(2).
		Provider(looping).
		Build()
	require.NoError(t, err)

	weather, err := agent.New[map[string]any, string]("weather").
		Template("{{.query}}").
		Provider(fixedReply("bring an umbrella")).
		Build()
	require.NoError(t, err)

	for _, a := range []agent.Runner{summarize, count, loop, weather} {
		require.NoError(t, reg.RegisterAgent(a))
	}

	kw, err := router.NewKeywordRouter("main", []router.Route{
		{Name: "weather", Keywords: []string{"rain", "forecast"}},
		{Name: "summary", Agent: "summarize", Keywords: []string{"summarize"}},
	}, "", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, reg.RegisterRouter(kw))

	f := &fixture{registry: reg, memory: mem, mux: http.NewServeMux()}
	ah := NewAgentHandler(reg, zap.NewNop())
	rh := NewRouteHandler(reg, f, zap.NewNop())
	mh := NewMemoryHandler(mem, f, zap.NewNop())

	f.mux.HandleFunc("GET /v1/agents", ah.HandleListAgents)
	f.mux.HandleFunc("GET /v1/agents/{name}", ah.HandleGetAgent)
	f.mux.HandleFunc("POST /v1/agents/{name}/invoke", ah.HandleInvokeAgent)
	f.mux.HandleFunc("GET /v1/routers", rh.HandleListRouters)
	f.mux.HandleFunc("POST /v1/route", rh.HandleRoute)
	f.mux.HandleFunc("POST /v1/route/invoke", rh.HandleRouteInvoke)
	f.mux.HandleFunc("POST /v1/memory/{agent}/records", mh.HandleStore)
	f.mux.HandleFunc("GET /v1/memory/{agent}/records/{key}", mh.HandleGet)
	f.mux.HandleFunc("DELETE /v1/memory/{agent}/records/{key}", mh.HandleDelete)
	f.mux.HandleFunc("DELETE /v1/memory/{agent}", mh.HandleClear)
	f.mux.HandleFunc("POST /v1/memory/{agent}/recall", mh.HandleRecall)
	f.mux.HandleFunc("GET /v1/memory/stats", mh.HandleStats)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

// =============================================================================
// 🧪 AgentHandler 测试
// =============================================================================

func TestAgentHandler_HandleListAgents(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	list, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, list, 4)
	first := list[0].(map[string]any)
	assert.Equal(t, "count", first["name"])
	assert.Equal(t, []any{"items"}, first["placeholders"])
}

func TestAgentHandler_HandleGetAgent(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(t, http.MethodGet, "/v1/agents/summarize", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := resp.Data.(map[string]any)
	assert.Equal(t, "Summarize a topic", info["description"])
	assert.Equal(t, true, info["memory"])

	w, resp = f.do(t, http.MethodGet, "/v1/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
}

func TestAgentHandler_HandleInvokeAgent(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(t, http.MethodPost, "/v1/agents/summarize/invoke", map[string]any{
		"input":   map[string]any{"topic": "tides"},
		"user_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "summarize", data["agent"])
	assert.Equal(t, "a short summary", data["output"])

	// 调用成功后记忆写入 alice 的作用域
	turns, err := f.memory.Recent(context.Background(), types.NewMemoryScope("alice", "summarize"), 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestAgentHandler_InvokeErrorMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		path       string
		input      map[string]any
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"missing placeholder", "/v1/agents/summarize/invoke", map[string]any{}, http.StatusBadRequest, types.ErrTemplate},
		{"unparsable output", "/v1/agents/count/invoke", map[string]any{"items": "apples"}, http.StatusUnprocessableEntity, types.ErrResponseParse},
		{"tool loop", "/v1/agents/loop/invoke", map[string]any{"query": "spin"}, http.StatusLoopDetected, types.ErrToolLoopExceeded},
		{"unknown agent", "/v1/agents/nope/invoke", map[string]any{}, http.StatusNotFound, types.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodPost, tt.path, map[string]any{"input": tt.input})
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
		})
	}
}

func TestAgentHandler_ParseErrorCarriesRaw(t *testing.T) {
	f := newFixture(t)

	_, resp := f.do(t, http.MethodPost, "/v1/agents/count/invoke", map[string]any{"input": map[string]any{"items": "x"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "several, probably", resp.Error.Raw)
}

func TestAgentHandler_InvalidBody(t *testing.T) {
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodPost, "/v1/agents/summarize/invoke", bytes.NewBufferString(`{"input":`))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
