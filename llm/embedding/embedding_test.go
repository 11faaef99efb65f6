package embedding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"rain", "tomorrow"}, Tokenize("Will it RAIN tomorrow?"))
	assert.Equal(t, []string{"下", "雨", "2"}, Tokenize("下雨 2"))
	assert.Empty(t, Tokenize("   "))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()

	a, err := EmbedOne(ctx, e, "weather forecast for tomorrow")
	require.NoError(t, err)
	b, err := EmbedOne(ctx, e, "weather forecast for tomorrow")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
}

func TestHashEmbedder_Similarity(t *testing.T) {
	e := NewHashEmbedder(256)
	vecs, err := e.Embed(context.Background(), []string{
		"will it rain tomorrow",
		"rain forecast tomorrow morning",
		"calculate the square root of nine",
	})
	require.NoError(t, err)

	assert.Greater(t, Cosine(vecs[0], vecs[1]), Cosine(vecs[0], vecs[2]))
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewHashEmbedder(8), "")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, 0.0, Cosine(v, v), "zero vector has no direction")
}

func TestCosine_Mismatch(t *testing.T) {
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int32
	texts atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	return c.inner.Embed(ctx, texts)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashEmbedder(32)}
	e := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	first, err := e.Embed(ctx, []string{"a b", "c d"})
	require.NoError(t, err)

	second, err := e.Embed(ctx, []string{"c d", "e f", "a b"})
	require.NoError(t, err)

	assert.Equal(t, first[0], second[2])
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.texts.Load(), "only the unseen text is embedded again")
	assert.Equal(t, 32, e.Dimensions())
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.Len(t, req.Input, 2)

		// 故意乱序返回，按 index 归位
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 4, "total_tokens": 4}
		}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(nil, OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/"}, zap.NewNop())
	vecs, err := e.Embed(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 1536, e.Dimensions())
}
