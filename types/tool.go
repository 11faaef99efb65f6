package types

import (
	"encoding/json"
	"time"
)

// ToolSchema 暴露给模型的函数声明，Parameters 为 JSON Schema。
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult 一次工具执行的结果。Error 非空时 Result 无意义。
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

func (tr ToolResult) IsError() bool { return tr.Error != "" }

// ToMessage 生成回填给模型的 tool 消息；失败时内容以 "Error: " 开头，
// 让模型在下一轮自行决定是否重试。
func (tr ToolResult) ToMessage() Message {
	if tr.IsError() {
		return NewToolMessage(tr.ToolCallID, tr.Name, "Error: "+tr.Error)
	}
	return NewToolMessage(tr.ToolCallID, tr.Name, string(tr.Result))
}
