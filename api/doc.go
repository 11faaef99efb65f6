// Package api holds the wire types of the agentwrap REST API.
//
// # API Overview
//
// agentwrap serves:
//   - agent listing and invocation (/v1/agents, /v1/agents/{name}/invoke)
//   - routing (/v1/route, /v1/route/invoke)
//   - scoped memory (/v1/memory/{agent}/records, /v1/memory/{agent}/recall, /v1/memory/stats)
//   - health, version and Prometheus metrics
//
// Every JSON response is wrapped in Envelope. Failures carry the error code
// of the failing pipeline stage, for example TEMPLATE_ERROR (400),
// RESPONSE_PARSE_ERROR (422) or TOOL_LOOP_EXCEEDED (508).
//
// # Authentication
//
// When server.jwt.secret is set, /v1 endpoints require an HS256 bearer token:
//
//	Authorization: Bearer <token>
//
// A user_id claim becomes the default memory user for the request.
package api
