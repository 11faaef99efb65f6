package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/types"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "gpt-test"}, zap.NewNop())
}

func TestProvider_Name(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	assert.Equal(t, "openai", p.Name())
	assert.True(t, p.SupportsNativeFunctionCalling())
	assert.NotNil(t, p.Client())
}

func TestProvider_CompletionText(t *testing.T) {
	var captured map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:    []llm.Message{types.NewSystemMessage("be brief"), types.NewUserMessage("hi")},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.FirstMessage().Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Provider)

	assert.Equal(t, "gpt-test", captured["model"], "config model used when request has none")
	assert.InDelta(t, 0.2, captured["temperature"], 1e-9)
	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestProvider_CompletionToolCalls(t *testing.T) {
	var captured map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-2",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "tool_calls",
				"message": {"role": "assistant", "content": null, "tool_calls": [
					{"id": "call_1", "type": "function",
					 "function": {"name": "calculator", "arguments": "{\"expression\":\"2+2\"}"}}
				]}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model: "gpt-other",
		Messages: []llm.Message{
			types.NewUserMessage("what is 2+2"),
			types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{ID: "call_0", Name: "noop", Arguments: json.RawMessage(`{}`)}}),
			types.NewToolMessage("call_0", "noop", "done"),
		},
		Tools: []types.ToolSchema{{
			Name:        "calculator",
			Description: "evaluate arithmetic",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())

	call := resp.FirstMessage().ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "calculator", call.Name)
	assert.JSONEq(t, `{"expression":"2+2"}`, string(call.Arguments))

	assert.Equal(t, "gpt-other", captured["model"])
	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "calculator", fn["name"])

	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool", msgs[2].(map[string]any)["role"])
	assert.Equal(t, "call_0", msgs[2].(map[string]any)["tool_call_id"])
}

func TestProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"bad request", http.StatusBadRequest, types.ErrInvalidRequest, false},
		{"unavailable", http.StatusServiceUnavailable, types.ErrServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"test"}}`))
			})

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{types.NewUserMessage("hi")},
			})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "narrator", Content: "x"})
	assert.Error(t, err)
}
