package api

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// Agent 调用
// =============================================================================

// InvokeRequest 调用单个 Agent。
// @Description Agent 调用请求
type InvokeRequest struct {
	// 模板变量，键与模板占位符一一对应
	Input map[string]any `json:"input"`
	// 记忆隔离使用的用户 ID，缺省为 default
	UserID string `json:"user_id,omitempty" example:"alice"`
}

// InvokeResponse Agent 调用结果。Output 的 JSON 形态由 Agent 的输出类型决定。
// @Description Agent 调用响应
type InvokeResponse struct {
	Agent    string `json:"agent" example:"summarize"`
	Output   any    `json:"output"`
	Duration string `json:"duration" example:"1.2s"`
}

// =============================================================================
// 路由
// =============================================================================

// RouteRequest 路由请求。Router 为空且只注册了一个路由器时使用该路由器。
// @Description 路由请求
type RouteRequest struct {
	Query  string `json:"query" example:"Will it rain tomorrow?"`
	Router string `json:"router,omitempty" example:"main"`
	UserID string `json:"user_id,omitempty" example:"alice"`
	// 仅 /v1/route/invoke 使用，与 query 合并后作为 Agent 输入
	Input map[string]any `json:"input,omitempty"`
}

// RouteDecision 路由决策
// @Description 路由决策
type RouteDecision struct {
	Router    string  `json:"router"`
	Route     string  `json:"route"`
	Agent     string  `json:"agent"`
	Score     float64 `json:"score"`
	Strategy  string  `json:"strategy"`
	Fallback  bool    `json:"fallback"`
	Rationale string  `json:"rationale,omitempty"`
}

// RouteInvokeResponse 路由后调用的结果
// @Description 路由并调用响应
type RouteInvokeResponse struct {
	Decision RouteDecision `json:"decision"`
	Output   any           `json:"output"`
	Duration string        `json:"duration"`
}

// =============================================================================
// 记忆
// =============================================================================

// MemoryStoreRequest 写入一条记忆
// @Description 记忆写入请求
type MemoryStoreRequest struct {
	UserID   string            `json:"user_id,omitempty"`
	Content  string            `json:"content" example:"prefers metric units"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MemoryStoreResponse 写入结果
type MemoryStoreResponse struct {
	Key   string            `json:"key"`
	Scope types.MemoryScope `json:"scope"`
}

// MemoryRecallRequest 语义召回请求
// @Description 记忆召回请求
type MemoryRecallRequest struct {
	UserID string `json:"user_id,omitempty"`
	Query  string `json:"query" example:"units"`
	TopK   int    `json:"top_k,omitempty" example:"5"`
}

// MemoryRecallResponse 召回结果，按相似度降序
type MemoryRecallResponse struct {
	Scope   types.MemoryScope    `json:"scope"`
	Records []types.MemoryRecord `json:"records"`
}

// =============================================================================
// 错误
// =============================================================================

// ErrorDetail 错误详情
// @Description 错误详情
type ErrorDetail struct {
	Code      string `json:"code" example:"RESPONSE_PARSE_ERROR"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	// 解析失败时最后一次的模型原始输出
	Raw string `json:"raw,omitempty"`
}

// Envelope 统一响应结构，handlers.Response 的线上形态
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}
