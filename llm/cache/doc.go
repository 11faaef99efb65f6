/*
包 cache 提供按请求指纹（Fingerprint）缓存 Agent 调用结果的多级缓存，
通过本地 LRU 与 Redis 协同避免重复的模型调用。

# 核心接口

  - Fingerprint：对 ChatRequest 的规范化 JSON 做 SHA-256，确定性的缓存键。
  - PromptCache：Get / SetIfAbsent，写入方只新增、不覆盖。
  - LRUCache：进程内 LRU（TTL + insert-if-absent）。
  - MultiLevelCache：L1 本地 LRU + L2 Redis（SETNX），Redis 命中回填本地。
  - LRU[V]：泛型 LRU，也被 embedding 缓存复用。

# 使用方式

	key := cache.Fingerprint(req)
	if entry, err := c.Get(ctx, key); err == nil {
		// 命中
	}
	_, _ = c.SetIfAbsent(ctx, key, &cache.Entry{Output: out}, ttl)
*/
package cache
