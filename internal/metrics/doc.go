/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、LLM、Agent 调用、缓存、记忆、路由与数据库。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
测试与多实例场景下可使用独立的 prometheus.Registry。
所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：请求总数、耗时、Token 用量，按 provider/model 分组；
    RecordLLMRequest 可直接作为 llm.ResilientConfig.Observe。
  - Agent 指标：实现 agent.Observer，记录调用、缓存查找（hit/miss）、工具调用与修复轮次。
  - 记忆与路由：操作计数与路由决策计数。
  - 数据库指标：db_connections Gauge，按 state=open/idle 区分。
*/
package metrics
