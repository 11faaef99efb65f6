package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/BaSui01/agentwrap/llm"
)

// canonicalMessage 只保留影响模型输出的字段（不含时间戳与元数据）
type canonicalMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []canonicalCall `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type canonicalCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

type canonicalTool struct {
	Name       string `json:"name"`
	Parameters any    `json:"parameters,omitempty"`
}

type canonicalRequest struct {
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []canonicalMessage `json:"messages"`
	Tools       []canonicalTool    `json:"tools,omitempty"`
}

// Fingerprint 计算请求指纹：规范化 JSON 的 SHA-256（hex）。
// 工具按名称排序，JSON 参数重新编码以消除键顺序与空白差异。
func Fingerprint(req *llm.ChatRequest) string {
	if req == nil {
		return ""
	}

	c := canonicalRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]canonicalMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		cm := canonicalMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, canonicalCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: canonicalJSON(tc.Arguments),
			})
		}
		c.Messages = append(c.Messages, cm)
	}
	for _, t := range req.Tools {
		c.Tools = append(c.Tools, canonicalTool{Name: t.Name, Parameters: canonicalJSON(t.Parameters)})
	}
	sort.SliceStable(c.Tools, func(i, j int) bool { return c.Tools[i].Name < c.Tools[j].Name })

	data, err := json.Marshal(c)
	if err != nil {
		// canonicalJSON 只产生可编码的值，这里不会失败
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON 将原始 JSON 解码为通用值，encoding/json 编码 map 时按键排序。
// 非法 JSON 按原字符串参与计算。
func canonicalJSON(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
