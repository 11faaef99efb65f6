package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// FieldNames 返回输入类型的字段名：结构体取 json 标签（或字段名），map 取键。
// 匿名嵌入结构体的字段会展开。
func FieldNames(v any) []string {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return sortedKeys(m)
	}
	return fieldNamesOf(reflect.TypeOf(v), reflect.ValueOf(v))
}

// FieldNamesOf 按类型返回字段名（不需要实例）
func FieldNamesOf[T any]() []string {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	return fieldNamesOf(t, reflect.ValueOf(zero))
}

func fieldNamesOf(t reflect.Type, v reflect.Value) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
		if v.IsValid() && !v.IsNil() {
			v = v.Elem()
		} else {
			v = reflect.Value{}
		}
	}
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Struct:
		return structFields(t)
	case reflect.Map:
		if t.Key().Kind() != reflect.String || !v.IsValid() {
			return nil
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return keys
	}
	return nil
}

func structFields(t reflect.Type) []string {
	var names []string
	walkFields(t, reflect.Value{}, func(name string, _ reflect.Value) {
		names = append(names, name)
	})
	return names
}

// walkFields 按 json 标签规则遍历导出字段，匿名嵌入结构体展开；
// v 无效时回调收到字段类型的零值
func walkFields(t reflect.Type, v reflect.Value, fn func(name string, fv reflect.Value)) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		fv := reflect.Zero(f.Type)
		if v.IsValid() {
			fv = v.Field(i)
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			ft, ev := f.Type, fv
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if ev.IsNil() {
					ev = reflect.Value{}
				} else {
					ev = ev.Elem()
				}
			}
			if ft.Kind() == reflect.Struct {
				walkFields(ft, ev, fn)
				continue
			}
		}
		if name == "" {
			name = f.Name
		}
		fn(name, fv)
	}
}

// Bind 把结构体或 map 绑定为 name → value。
// 经过一次 JSON 编解码，字段名由 json 标签决定，切片变为 []any，数字保持为 json.Number。
// 被 omitempty 省略的结构体字段以零值补回，声明过的字段总能被模板引用。
func Bind(v any) (map[string]any, error) {
	if v == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bind input: %w", err)
	}
	var out map[string]any
	if err := decodeNumbers(data, &out); err != nil {
		return nil, fmt.Errorf("bind input: %T is not an object: %w", v, err)
	}
	if out == nil {
		out = map[string]any{}
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return out, nil
	}
	var ferr error
	walkFields(rv.Type(), rv, func(name string, fv reflect.Value) {
		if _, ok := out[name]; ok || ferr != nil {
			return
		}
		out[name], ferr = zeroValue(fv)
	})
	if ferr != nil {
		return nil, fmt.Errorf("bind input: %w", ferr)
	}
	return out, nil
}

// zeroValue 按 Bind 的规则编码被省略的字段；nil 切片与 map 变为空集合，便于 range
func zeroValue(fv reflect.Value) (any, error) {
	data, err := json.Marshal(fv.Interface())
	if err != nil {
		return nil, err
	}
	var out any
	if err := decodeNumbers(data, &out); err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}
	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		return []any{}, nil
	case reflect.Map:
		return map[string]any{}, nil
	}
	return nil, nil
}

func decodeNumbers(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
