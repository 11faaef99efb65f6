package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/BaSui01/agentwrap/llm/cache"
)

// CachedEmbedder 按文本哈希缓存向量，只把未命中的文本交给底层嵌入器
type CachedEmbedder struct {
	inner Embedder
	lru   *cache.LRU[[]float32]
}

// NewCachedEmbedder 包装 inner，capacity 为缓存条目上限
func NewCachedEmbedder(inner Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, lru: cache.NewLRU[[]float32](capacity, 0)}
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, t := range texts {
		if v, ok := c.lru.Get(textKey(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, ErrCountMismatch
	}
	for j, v := range vecs {
		out[slots[j]] = v
		c.lru.Set(textKey(missing[j]), v)
	}
	return out, nil
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
