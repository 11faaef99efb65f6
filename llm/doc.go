/*
包 llm 定义模型调用层：Provider 接口、请求与响应结构，以及带重试与熔断的
ResilientProvider。

# 核心接口

  - [Provider]：Completion / HealthCheck / Name / SupportsNativeFunctionCalling。
    Agent 只依赖该接口，测试中由 testutil/mocks 的脚本化实现替代。

# 核心类型

  - [ChatRequest] / [ChatResponse]：一次模型调用的输入与输出，消息结构复用 types.Message
  - [ChatUsage]：token 用量，写入 Prometheus 指标
  - [ResilientProvider]：按 retry.RetryPolicy 重试可重试错误，
    连续失败由 gobreaker 熔断；熔断期间直接返回 MODEL_INVOCATION_ERROR

# 相关子包

  - llm/providers/openai：基于 openai-go 的 Chat Completions 实现
  - llm/retry：指数退避策略
  - llm/cache：指纹缓存（本地 LRU + Redis）
  - llm/tools：工具注册表与执行器
  - llm/embedding：嵌入器（OpenAI / 哈希）
  - llm/tokenizer：tiktoken 计数与历史裁剪
*/
package llm
