/*
Package types 提供 agentwrap 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、api 等上层
模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message / Role / ToolCall: 对话消息与工具调用请求
  - ToolSchema / ToolResult: 工具定义与执行结果
  - Error / ErrorCode: 结构化错误，含六种管线错误类型
  - MemoryScope: (user, agent) 类型化作用域键
  - MemoryRecord / MemoryStats: 记忆条目与统计

# 错误类型

  - TEMPLATE_ERROR: 模板占位符无法解析
  - MODEL_INVOCATION_ERROR: 模型后端不可达或限流
  - RESPONSE_PARSE_ERROR: 输出与声明类型不符（附带原始输出）
  - TOOL_LOOP_EXCEEDED: 工具循环超过上限
  - STORAGE_ERROR: 记忆后端失败或超时
  - NO_ROUTE_MATCHED: 路由得分低于阈值
*/
package types
