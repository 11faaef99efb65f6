package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// SchemaType JSON Schema 的 type 取值
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// JSONSchema 是解析目标与校验器共用的 JSON Schema 子集，通常由
// invopop/jsonschema 的反射结果解码而来。未列出的关键字在解码时忽略。
type JSONSchema struct {
	Schema      string     `json:"$schema,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Type        SchemaType `json:"type,omitempty"`

	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *Extra                 `json:"additionalProperties,omitempty"`

	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Format    string `json:"format,omitempty"`

	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`

	AnyOf []*JSONSchema `json:"anyOf,omitempty"`
	OneOf []*JSONSchema `json:"oneOf,omitempty"`
}

// Extra 对应 additionalProperties：布尔开关或约束额外字段的子 schema。
type Extra struct {
	Allowed bool
	Schema  *JSONSchema
}

func (e *Extra) MarshalJSON() ([]byte, error) {
	switch {
	case e == nil:
		return []byte("null"), nil
	case e.Schema != nil:
		return json.Marshal(e.Schema)
	default:
		return json.Marshal(e.Allowed)
	}
}

func (e *Extra) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*e = Extra{Allowed: data[0] == 't'}
		return nil
	case len(data) > 0 && data[0] == '{':
		var s JSONSchema
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("additionalProperties: %w", err)
		}
		*e = Extra{Allowed: true, Schema: &s}
		return nil
	}
	return errors.New("additionalProperties must be a boolean or an object")
}

// Of 基本类型 schema
func Of(t SchemaType) *JSONSchema { return &JSONSchema{Type: t} }

// ArrayOf 元素为 items 的数组 schema
func ArrayOf(items *JSONSchema) *JSONSchema { return &JSONSchema{Type: TypeArray, Items: items} }

// Object 由属性表构造对象 schema，required 保持调用顺序。
func Object(props map[string]*JSONSchema, required ...string) *JSONSchema {
	if props == nil {
		props = map[string]*JSONSchema{}
	}
	return &JSONSchema{Type: TypeObject, Properties: props, Required: required}
}

// Closed 禁止未声明的字段
func (s *JSONSchema) Closed() *JSONSchema {
	s.AdditionalProperties = &Extra{}
	return s
}

// Between 设置闭区间；nil 表示该侧不限。
func (s *JSONSchema) Between(lo, hi *float64) *JSONSchema {
	s.Minimum, s.Maximum = lo, hi
	return s
}

// OneOfValues 设置 enum
func (s *JSONSchema) OneOfValues(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

// AtLeast 数组最少元素数
func (s *JSONSchema) AtLeast(n int) *JSONSchema {
	s.MinItems = &n
	return s
}

func (s *JSONSchema) IsRequired(name string) bool {
	return slices.Contains(s.Required, name)
}

// ToJSON 紧凑编码，省略 $schema，用于拼接系统提示。
func (s *JSONSchema) ToJSON() ([]byte, error) {
	c := *s
	c.Schema = ""
	return json.Marshal(&c)
}

func FromJSON(data []byte) (*JSONSchema, error) {
	s := new(JSONSchema)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode json schema: %w", err)
	}
	return s, nil
}
