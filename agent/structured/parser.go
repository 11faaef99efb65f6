package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// Kind 目标类型种类
type Kind int

const (
	KindString Kind = iota
	KindList
	KindObject
	// KindScalar covers numbers and booleans.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindScalar:
		return "scalar"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Target 描述解析目标：纯文本、列表或结构化记录。
type Target struct {
	Kind Kind
	// Items 列表元素 Schema；nil 表示字符串元素
	Items *JSONSchema
	// Schema 完整 Schema（对象或列表）
	Schema *JSONSchema
}

// StringTarget is the target for free-text output.
func StringTarget() Target { return Target{Kind: KindString} }

// ObjectTarget builds an object target from an explicit schema.
func ObjectTarget(schema *JSONSchema) Target { return Target{Kind: KindObject, Schema: schema} }

// ListTarget builds a list target; items may be nil for a list of strings.
func ListTarget(items *JSONSchema) Target {
	if items == nil {
		items = Of(TypeString)
	}
	return Target{Kind: KindList, Items: items, Schema: ArrayOf(items)}
}

// TargetFor derives the parse target from a Go type.
func TargetFor[T any]() Target {
	return TargetOf(reflect.TypeOf((*T)(nil)).Elem())
}

// TargetOf derives the parse target from a reflect.Type.
func TargetOf(t reflect.Type) Target {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return StringTarget()
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return StringTarget()
		}
		elem := t.Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() == reflect.String {
			return ListTarget(nil)
		}
		return ListTarget(reflectSchema(elem))
	case reflect.Struct, reflect.Map, reflect.Interface:
		return ObjectTarget(reflectSchema(t))
	default:
		return Target{Kind: KindScalar, Schema: reflectSchema(t)}
	}
}

var outputReflector = &jsonschema.Reflector{
	ExpandedStruct:            true,
	DoNotReference:            true,
	AllowAdditionalProperties: true,
}

// reflectSchema 经 invopop/jsonschema 反射后解码为本地 JSONSchema。
// 没有 omitempty 的字段视为必填。
func reflectSchema(t reflect.Type) *JSONSchema {
	data, err := json.Marshal(outputReflector.ReflectFromType(t))
	if err != nil {
		return nil
	}
	s, err := FromJSON(data)
	if err != nil {
		return nil
	}
	s.Schema = ""
	if s.Type == "" && t.Kind() == reflect.Interface {
		return nil
	}
	return s
}

// =============================================================================
// JSON extraction
// =============================================================================

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\n?(.*?)```")

// StripFence 去掉包裹整段输出的 Markdown 代码块
func StripFence(text string) string {
	t := strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(t); m != nil && strings.HasPrefix(t, "```") {
		return strings.TrimSpace(m[1])
	}
	return t
}

// ExtractJSON 返回文本中第一个平衡的 JSON 对象或数组。
// 容忍前后说明文字与 ```json 代码块，字符串内的括号不计入配对。
// ok 为 false 时，若存在起始括号则返回其后全部文本（截断输出，可交给修复）。
func ExtractJSON(text string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		if s, ok := firstJSON(m[1]); ok {
			return s, true
		}
	}
	return firstJSON(text)
}

func firstJSON(text string) (string, bool) {
	var fallback string
	truncated := ""
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			if truncated == "" && fallback == "" {
				truncated = text[i:]
			}
			continue
		}
		cand := text[i : end+1]
		if json.Valid([]byte(cand)) {
			return cand, true
		}
		if fallback == "" {
			fallback = cand
		}
	}
	if fallback != "" {
		return fallback, true
	}
	return truncated, false
}

// matchBracket returns the index of the bracket closing text[start], or -1.
func matchBracket(text string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// =============================================================================
// Parser
// =============================================================================

// Parser 将模型原始输出转换为声明的目标类型，无副作用。
type Parser struct {
	validator *DefaultValidator
	logger    *zap.Logger
}

// NewParser creates a Parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		validator: NewValidator(),
		logger:    logger.With(zap.String("component", "response_parser")),
	}
}

var errNoJSON = errors.New("no JSON value found in output")

// Parse converts raw output into JSON shaped by target. Failures are
// ResponseParseError values carrying raw; validation failures wrap
// *ValidationErrors naming the offending fields.
func (p *Parser) Parse(raw string, target Target) (json.RawMessage, error) {
	var (
		out json.RawMessage
		err error
	)
	switch target.Kind {
	case KindString:
		out, err = json.Marshal(StripFence(raw))
	case KindList:
		out, err = p.parseList(raw, target)
	case KindObject:
		out, err = p.parseObject(raw, target)
	case KindScalar:
		out, err = p.parseScalar(raw, target)
	default:
		err = fmt.Errorf("unsupported target kind %s", target.Kind)
	}
	if err != nil {
		p.logger.Debug("parse failed", zap.Stringer("kind", target.Kind), zap.Error(err))
		return nil, types.NewResponseParseError(raw, err)
	}
	return out, nil
}

// Parse is the typed form of (*Parser).Parse using TargetFor[T].
func Parse[T any](p *Parser, raw string) (T, error) {
	var zero T
	data, err := p.Parse(raw, TargetFor[T]())
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, types.NewResponseParseError(raw, err)
	}
	return out, nil
}

func (p *Parser) decode(raw string) (any, error) {
	cand, ok := ExtractJSON(raw)
	if cand == "" {
		return nil, errNoJSON
	}
	var v any
	err := json.Unmarshal([]byte(cand), &v)
	if err == nil {
		return v, nil
	}
	repaired, rerr := jsonrepair.JSONRepair(cand)
	if rerr != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if uerr := json.Unmarshal([]byte(repaired), &v); uerr != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	p.logger.Debug("repaired malformed JSON", zap.Bool("balanced", ok))
	return v, nil
}

func (p *Parser) parseObject(raw string, target Target) (json.RawMessage, error) {
	v, err := p.decode(raw)
	if err != nil {
		return nil, err
	}
	if err := p.validator.ValidateValue(v, target.Schema); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

var listMarkerRe = regexp.MustCompile(`^\s*(?:[-*+•]|\d+[.)])\s+`)

func (p *Parser) parseList(raw string, target Target) (json.RawMessage, error) {
	text := StripFence(raw)
	if cand, ok := ExtractJSON(text); ok && strings.HasPrefix(cand, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(cand), &arr); err == nil {
			return p.finishList(arr, target)
		}
	}

	isString := target.Items == nil || target.Items.Type == TypeString
	lines := strings.Split(text, "\n")
	// 有带标记的行时，只取带标记的行（跳过 "Ideas:" 之类的引导语）
	markedOnly := false
	for _, line := range lines {
		if listMarkerRe.MatchString(line) {
			markedOnly = true
			break
		}
	}
	var items []any
	for _, line := range lines {
		if markedOnly && !listMarkerRe.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.TrimSpace(listMarkerRe.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		if isString {
			items = append(items, line)
			continue
		}
		var item any
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			return nil, &ValidationErrors{Errors: []ParseError{{
				Path:    fmt.Sprintf("[%d]", len(items)),
				Message: fmt.Sprintf("cannot decode list item %q", line),
			}}}
		}
		items = append(items, item)
	}
	if items == nil {
		items = []any{}
	}
	return p.finishList(items, target)
}

func (p *Parser) finishList(items []any, target Target) (json.RawMessage, error) {
	if err := p.validator.ValidateValue(items, target.Schema); err != nil {
		return nil, err
	}
	return json.Marshal(items)
}

func (p *Parser) parseScalar(raw string, target Target) (json.RawMessage, error) {
	text := strings.Trim(StripFence(raw), " \t\r\n.\"'")
	var v any
	if err := json.Unmarshal([]byte(strings.ToLower(text)), &v); err != nil {
		return nil, fmt.Errorf("cannot decode %q as %s", text, schemaType(target.Schema))
	}
	if err := p.validator.ValidateValue(v, target.Schema); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func schemaType(s *JSONSchema) string {
	if s == nil || s.Type == "" {
		return "value"
	}
	return string(s.Type)
}

// =============================================================================
// Prompt helpers
// =============================================================================

// Instructions 返回追加到系统提示中的输出格式说明；纯文本目标返回空串。
func Instructions(target Target) string {
	switch target.Kind {
	case KindObject:
		if target.Schema == nil {
			return "Respond with a single JSON object and nothing else."
		}
		schema, _ := target.Schema.ToJSON()
		return "Respond with a single JSON object matching this JSON schema and nothing else:\n" + string(schema)
	case KindList:
		if target.Items == nil || target.Items.Type == TypeString {
			return "Respond with a list, one item per line, or a JSON array of strings."
		}
		schema, _ := target.Schema.ToJSON()
		return "Respond with a JSON array matching this JSON schema and nothing else:\n" + string(schema)
	case KindScalar:
		return fmt.Sprintf("Respond with a single %s value and nothing else.", schemaType(target.Schema))
	default:
		return ""
	}
}

// RepairPrompt 构造修复轮次的追问消息：说明错误并要求按格式重新输出。
func RepairPrompt(raw string, err error, target Target) string {
	var b strings.Builder
	b.WriteString("Your previous reply could not be parsed")
	var verrs *ValidationErrors
	switch {
	case errors.As(err, &verrs):
		b.WriteString(": ")
		b.WriteString(verrs.Error())
	case err != nil:
		b.WriteString(": ")
		var te *types.Error
		if errors.As(err, &te) && te.Cause != nil {
			b.WriteString(te.Cause.Error())
		} else {
			b.WriteString(err.Error())
		}
	}
	b.WriteString(".\n\nPrevious reply:\n")
	b.WriteString(strings.TrimSpace(raw))
	b.WriteString("\n\nReformat the answer. ")
	if ins := Instructions(target); ins != "" {
		b.WriteString(ins)
	} else {
		b.WriteString("Respond with plain text only.")
	}
	return b.String()
}
