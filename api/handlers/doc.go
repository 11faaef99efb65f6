/*
包 handlers 实现 agentwrap REST API 的 HTTP 处理器。

  - AgentHandler：列出 Agent、查看描述、调用 /v1/agents/{name}/invoke。
  - RouteHandler：/v1/route 只返回路由决策，/v1/route/invoke 路由后调用。
  - MemoryHandler：按 (user_id, agent) 作用域存取、召回、删除记忆。
  - HealthHandler：/health、/healthz、/ready、/version。

所有响应使用 Response 包装（response.go）。错误按 types.ErrorCode 映射 HTTP 状态码（StatusFor），
例如 TEMPLATE_ERROR 400、RESPONSE_PARSE_ERROR 422、TOOL_LOOP_EXCEEDED 508、
MODEL_INVOCATION_ERROR 502、STORAGE_ERROR 503、NO_ROUTE_MATCHED 404。
*/
package handlers
