package structured

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// SchemaValidator validates JSON data against a JSONSchema.
type SchemaValidator interface {
	Validate(data []byte, schema *JSONSchema) error
}

// ParseError represents a validation error with field path.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for i := range e.Errors {
		msgs = append(msgs, e.Errors[i].Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Paths returns the offending field paths in report order.
func (e *ValidationErrors) Paths() []string {
	out := make([]string, 0, len(e.Errors))
	for _, pe := range e.Errors {
		out = append(out, pe.Path)
	}
	return out
}

// DefaultValidator 按 JSONSchema 子集做字段级校验。
// 错误按路径稳定排序输出，同一输入多次校验结果一致。
type DefaultValidator struct {
	formats map[string]*regexp.Regexp

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// NewValidator creates a DefaultValidator with the built-in formats.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{
		formats: map[string]*regexp.Regexp{
			"email":     regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
			"uri":       regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`),
			"uuid":      regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
			"date-time": regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
			"date":      regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		},
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Validate decodes data and checks it against schema.
func (v *DefaultValidator) Validate(data []byte, schema *JSONSchema) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}
	return v.ValidateValue(value, schema)
}

// ValidateValue checks an already decoded value.
func (v *DefaultValidator) ValidateValue(value any, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	var errs []ParseError
	v.check(value, schema, "", &errs)
	if len(errs) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: errs}
}

func (v *DefaultValidator) check(value any, s *JSONSchema, path string, errs *[]ParseError) {
	add := func(format string, args ...any) {
		*errs = append(*errs, ParseError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if s.Const != nil && !equalJSON(value, s.Const) {
		add("value must be %v", s.Const)
		return
	}
	if len(s.Enum) > 0 {
		found := false
		for _, e := range s.Enum {
			if equalJSON(value, e) {
				found = true
				break
			}
		}
		if !found {
			add("value must be one of: %v", s.Enum)
			return
		}
	}

	if len(s.AnyOf) > 0 || len(s.OneOf) > 0 {
		alts := s.AnyOf
		if len(alts) == 0 {
			alts = s.OneOf
		}
		for _, alt := range alts {
			var sub []ParseError
			v.check(value, alt, path, &sub)
			if len(sub) == 0 {
				return
			}
		}
		add("value does not match any allowed schema")
		return
	}

	switch s.Type {
	case "":
		return
	case TypeString:
		str, ok := value.(string)
		if !ok {
			add("expected string, got %s", jsonKind(value))
			return
		}
		n := len([]rune(str))
		if s.MinLength != nil && n < *s.MinLength {
			add("string length %d is less than minimum %d", n, *s.MinLength)
		}
		if s.MaxLength != nil && n > *s.MaxLength {
			add("string length %d exceeds maximum %d", n, *s.MaxLength)
		}
		if s.Pattern != "" {
			re, err := v.pattern(s.Pattern)
			if err != nil {
				add("invalid pattern %q: %v", s.Pattern, err)
			} else if !re.MatchString(str) {
				add("string does not match pattern %q", s.Pattern)
			}
		}
		if re, ok := v.formats[s.Format]; ok && !re.MatchString(str) {
			add("string does not match format %q", s.Format)
		}
	case TypeNumber, TypeInteger:
		num, ok := value.(float64)
		if !ok {
			add("expected %s, got %s", s.Type, jsonKind(value))
			return
		}
		// 整数允许 30.0 这样的浮点写法
		if s.Type == TypeInteger && num != math.Trunc(num) {
			add("expected integer, got %v", num)
			return
		}
		if s.Minimum != nil && num < *s.Minimum {
			add("value %v is less than minimum %v", num, *s.Minimum)
		}
		if s.Maximum != nil && num > *s.Maximum {
			add("value %v exceeds maximum %v", num, *s.Maximum)
		}
		if s.ExclusiveMinimum != nil && num <= *s.ExclusiveMinimum {
			add("value %v must be greater than %v", num, *s.ExclusiveMinimum)
		}
		if s.ExclusiveMaximum != nil && num >= *s.ExclusiveMaximum {
			add("value %v must be less than %v", num, *s.ExclusiveMaximum)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			add("expected boolean, got %s", jsonKind(value))
		}
	case TypeNull:
		if value != nil {
			add("expected null, got %s", jsonKind(value))
		}
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			add("expected object, got %s", jsonKind(value))
			return
		}
		v.checkObject(obj, s, path, errs)
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			add("expected array, got %s", jsonKind(value))
			return
		}
		if s.MinItems != nil && len(arr) < *s.MinItems {
			add("array has %d items, minimum is %d", len(arr), *s.MinItems)
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			add("array has %d items, maximum is %d", len(arr), *s.MaxItems)
		}
		if s.Items != nil {
			for i, item := range arr {
				v.check(item, s.Items, fmt.Sprintf("%s[%d]", path, i), errs)
			}
		}
	default:
		add("unsupported schema type %q", s.Type)
	}
}

func (v *DefaultValidator) checkObject(obj map[string]any, s *JSONSchema, path string, errs *[]ParseError) {
	required := append([]string(nil), s.Required...)
	sort.Strings(required)
	for _, name := range required {
		val, ok := obj[name]
		if !ok {
			*errs = append(*errs, ParseError{Path: joinPath(path, name), Message: "required field missing"})
			continue
		}
		if val == nil {
			if prop := s.Properties[name]; prop == nil || prop.Type != TypeNull {
				*errs = append(*errs, ParseError{Path: joinPath(path, name), Message: "required field must not be null"})
			}
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		val := obj[k]
		prop, declared := s.Properties[k]
		switch {
		case declared:
			// 可选字段允许显式 null，必填字段的 null 已在上面报告
			if val == nil {
				continue
			}
			v.check(val, prop, joinPath(path, k), errs)
		case s.AdditionalProperties != nil && s.AdditionalProperties.Schema != nil:
			v.check(val, s.AdditionalProperties.Schema, joinPath(path, k), errs)
		case s.AdditionalProperties != nil && !s.AdditionalProperties.Allowed:
			*errs = append(*errs, ParseError{Path: joinPath(path, k), Message: "additional property not allowed"})
		}
	}
}

func (v *DefaultValidator) pattern(p string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	v.patterns[p] = re
	return re, nil
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func equalJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ab) == string(bb)
}
