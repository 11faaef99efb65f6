/*
agentwrap 是 AgentWrap 的命令行入口与组合根。

配置按 默认值 → YAML（--config）→ AGENTWRAP_* 环境变量 的顺序加载，
启动前先读取 .env（--env-file）。App 负责装配 OpenAI Provider（重试 + 熔断）、
嵌入器、三层记忆、Redis/LRU Prompt 缓存、内置工具、声明式 Agent 与路由器，
所有子命令共用同一套装配逻辑。

# 子命令

  - serve：HTTP API，中间件链为 Recovery → RequestID → SecurityHeaders →
    OTel → Observe（访问日志 + 指标）→ CORS → RateLimiter → JWT。
  - mcp：在 stdin/stdout 上提供 MCP 工具，日志强制写入 stderr。
  - invoke / route：在命令行调用 Agent 或路由器，结果以 JSON 输出。
  - memory：stats、get、store、recall、delete。
  - migrate：postgres/mysql 使用内嵌 SQL 迁移；sqlite 的 up 使用 AutoMigrate。
  - version、health。

# 退出码

	0 成功    1 其他错误    2 模板错误    3 响应解析失败
	4 工具循环超限    5 模型调用失败    6 存储错误    7 没有匹配的路由
*/
package main
