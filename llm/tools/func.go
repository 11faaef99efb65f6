package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/BaSui01/agentwrap/types"
)

// Tool 由类型化函数构造的工具
type Tool struct {
	Schema    types.ToolSchema
	Fn        ToolFunc
	RateLimit *RateLimitConfig
	Timeout   time.Duration
}

// Func 从类型化函数创建工具，参数 Schema 由 A 的 json / jsonschema 标签生成。
//
//	type CalcArgs struct {
//	    Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression"`
//	}
//	t := tools.Func("calculator", "Evaluate arithmetic", func(ctx context.Context, a CalcArgs) (float64, error) { ... })
func Func[A, R any](name, description string, fn func(ctx context.Context, args A) (R, error)) Tool {
	return Tool{
		Schema: types.ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  GenerateSchema[A](),
		},
		Fn: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
			var args A
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			res, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		},
	}
}

// GenerateSchema 反射生成 JSON Schema（内联，无 $ref / $schema）
func GenerateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	delete(m, "$schema")
	delete(m, "$id")
	if m["type"] == "object" && m["properties"] == nil {
		m["properties"] = map[string]any{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}
