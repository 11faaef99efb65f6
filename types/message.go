package types

import (
	"encoding/json"
	"time"
)

// Role 对话参与方
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid 判断角色是否为已知取值
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall 模型发起的一次工具调用，Arguments 保持原始 JSON。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message 是管线内流转的单条消息，也是工作记忆中的一个 turn。
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp,omitempty"`
}

func stamped(m Message) Message {
	m.Timestamp = time.Now()
	return m
}

func NewSystemMessage(content string) Message {
	return stamped(Message{Role: RoleSystem, Content: content})
}

func NewUserMessage(content string) Message {
	return stamped(Message{Role: RoleUser, Content: content})
}

func NewAssistantMessage(content string) Message {
	return stamped(Message{Role: RoleAssistant, Content: content})
}

// NewToolMessage 把工具输出作为 observation 回填给模型
func NewToolMessage(toolCallID, name, content string) Message {
	return stamped(Message{Role: RoleTool, Content: content, Name: name, ToolCallID: toolCallID})
}

// WithToolCalls 返回携带工具调用的副本
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// WithMetadata 合并元数据，不修改原消息的 map。
func (m Message) WithMetadata(metadata map[string]string) Message {
	if len(metadata) == 0 {
		return m
	}
	merged := make(map[string]string, len(m.Metadata)+len(metadata))
	for k, v := range m.Metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}
	m.Metadata = merged
	return m
}

// RequestsTools 助手消息是否要求执行工具
func (m Message) RequestsTools() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}
