package agent

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/agentwrap/agent/structured"
)

// Runner 是类型擦除后的 Agent，便于不同输入输出类型的 Agent 放入同一个 Registry。
type Runner interface {
	Name() string
	Description() string
	Info() Info
	Run(ctx context.Context, input map[string]any, userID string) (any, error)
}

// Info Agent 的对外描述（列表接口、MCP 工具说明使用）
type Info struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Model        string   `json:"model"`
	Placeholders []string `json:"placeholders"`
	Output       string   `json:"output"`
	Tools        []string `json:"tools,omitempty"`
	Cache        bool     `json:"cache"`
	Memory       bool     `json:"memory"`
}

var _ Runner = (*Agent[map[string]any, string])(nil)

// Info 返回 Agent 描述
func (a *Agent[In, Out]) Info() Info {
	return Info{
		Name:         a.cfg.Name,
		Description:  a.cfg.Description,
		Model:        a.cfg.Model,
		Placeholders: a.template.Placeholders(),
		Output:       a.target.Kind.String(),
		Tools:        append([]string(nil), a.cfg.Tools...),
		Cache:        a.cfg.CacheEnabled,
		Memory:       a.cfg.MemoryEnabled,
	}
}

// OutputKind 返回输出解析目标
func (a *Agent[In, Out]) OutputKind() structured.Kind { return a.target.Kind }

// Run 把通用 map 输入转换为 In 后调用 Invoke
func (a *Agent[In, Out]) Run(ctx context.Context, input map[string]any, userID string) (any, error) {
	in, err := convertInput[In](input)
	if err != nil {
		return nil, invalidInput(a.cfg.Name, err)
	}
	return a.Invoke(ctx, in, WithUser(userID))
}

func convertInput[In any](input map[string]any) (In, error) {
	var in In
	if input == nil {
		input = map[string]any{}
	}
	if m, ok := any(input).(In); ok {
		return m, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, err
	}
	return in, nil
}
