// Package cache 管理 Redis 客户端：建立连接时 PING 一次，之后按
// ProbeEvery 读取 INFO 与 DBSIZE 记录日志。Client() 交给 llm/cache 作为
// Prompt 缓存的 L2，/ready 的 redis 检查调用 Ping。
package cache
