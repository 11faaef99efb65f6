/*
# 概述

包 openai 基于 github.com/openai/openai-go 提供 Chat Completions 的
Provider 适配实现。通过 BaseURL 可连接任何 OpenAI 兼容服务。

# 支持能力

  - 消息转换：system / user / assistant（含 tool_calls）/ tool
  - 原生 Function Calling：types.ToolSchema → FunctionDefinitionParam
  - 错误映射：*openai.Error 的 HTTP 状态码 → types.Error（含 Retryable）
  - 健康检查：Models.List 探活
*/
package openai
