/*
包 embedding 提供文本嵌入（Embedding）接口与实现，供语义记忆与语义路由使用。

# 核心接口

  - Embedder：Embed(ctx, texts) → [][]float32，Dimensions()。
  - OpenAIEmbedder：基于 openai-go Embeddings API，BaseURL 可指向兼容服务。
  - HashEmbedder：确定性的特征哈希词袋（词 + 二元组，L2 归一化），离线与测试使用。
  - CachedEmbedder：按文本哈希缓存向量，路由示例只嵌入一次。
  - Cosine：余弦相似度。

# 使用方式

	e := embedding.NewCachedEmbedder(embedding.NewHashEmbedder(256), 4096)
	vecs, err := e.Embed(ctx, []string{"今天会下雨吗", "calculate 2+2"})
*/
package embedding
