package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/types"
)

func baseRequest() *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   256,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hello"},
		},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Messages[1].Timestamp = time.Now().Add(time.Hour)
	b.Messages[1].Metadata = map[string]string{"trace": "x"}

	assert.Equal(t, Fingerprint(a), Fingerprint(b), "timestamps and metadata do not affect the key")
	assert.Len(t, Fingerprint(a), 64)
}

func TestFingerprint_SensitiveFields(t *testing.T) {
	base := Fingerprint(baseRequest())

	mutations := map[string]func(r *llm.ChatRequest){
		"model":       func(r *llm.ChatRequest) { r.Model = "gpt-4o" },
		"temperature": func(r *llm.ChatRequest) { r.Temperature = 0.7 },
		"max_tokens":  func(r *llm.ChatRequest) { r.MaxTokens = 512 },
		"content":     func(r *llm.ChatRequest) { r.Messages[1].Content = "world" },
		"tools": func(r *llm.ChatRequest) {
			r.Tools = []types.ToolSchema{{Name: "calculator"}}
		},
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			r := baseRequest()
			mutate(r)
			assert.NotEqual(t, base, Fingerprint(r))
		})
	}
}

func TestFingerprint_ToolOrderAndSchemaFormatting(t *testing.T) {
	a := baseRequest()
	a.Tools = []types.ToolSchema{
		{Name: "calculator", Parameters: json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}}}`)},
		{Name: "current_time", Parameters: json.RawMessage(`{"type":"object"}`)},
	}
	b := baseRequest()
	b.Tools = []types.ToolSchema{
		{Name: "current_time", Parameters: json.RawMessage(`{ "type": "object" }`)},
		{Name: "calculator", Parameters: json.RawMessage(`{"properties":{"expression":{"type":"string"}},"type":"object"}`)},
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_Nil(t *testing.T) {
	assert.Empty(t, Fingerprint(nil))
}

func TestFingerprint_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "messages")
		req := &llm.ChatRequest{
			Model:       rapid.StringMatching(`[a-z0-9-]{1,12}`).Draw(rt, "model"),
			Temperature: rapid.Float64Range(0, 2).Draw(rt, "temperature"),
			MaxTokens:   rapid.IntRange(0, 4096).Draw(rt, "max_tokens"),
		}
		for i := 0; i < n; i++ {
			req.Messages = append(req.Messages, llm.Message{
				Role:    rapid.SampledFrom([]llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant}).Draw(rt, "role"),
				Content: rapid.String().Draw(rt, "content"),
			})
		}

		clone := *req
		clone.Messages = append([]llm.Message(nil), req.Messages...)

		if Fingerprint(req) != Fingerprint(&clone) {
			rt.Fatalf("fingerprint differs for identical requests")
		}
	})
}
