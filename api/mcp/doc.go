// Package mcp exposes the agent registry as a Model Context Protocol tool
// server built on mark3labs/mcp-go.
//
// Tools:
//
//	list_agents    agents, their placeholders and output types
//	invoke_agent   {agent, input, user_id}
//	route_query    {query, router, user_id, decide_only}
//	memory_store   {agent, content, key, user_id}
//	memory_recall  {agent, query, top_k, user_id}
//
// Pipeline failures are returned as tool errors whose text starts with the
// error code, for example "[RESPONSE_PARSE_ERROR] ...", so MCP clients can
// tell a template problem from a model outage.
package mcp
