package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/BaSui01/agentwrap/types"
)

// Template 已解析的提示词模板，构造后无状态，可并发使用
type Template struct {
	name         string
	text         string
	tmpl         *template.Template
	placeholders []string
}

// missingKeyPattern 匹配 text/template 在 missingkey=error 下的报错
var missingKeyPattern = regexp.MustCompile(`map has no entry for key "([^"]+)"`)

// Funcs 模板内置函数
var Funcs = template.FuncMap{
	"join": func(sep string, v any) string {
		return strings.Join(toStrings(v), sep)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"default": func(def, v any) any {
		if isEmpty(v) {
			return def
		}
		return v
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"bullet": func(v any) string {
		items := toStrings(v)
		var sb strings.Builder
		for i, it := range items {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString("- ")
			sb.WriteString(it)
		}
		return sb.String()
	},
}

// Parse 解析模板文本
func Parse(name, text string) (*Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(Funcs).Parse(text)
	if err != nil {
		return nil, types.NewTemplateError("", fmt.Errorf("parse template %s: %w", name, err))
	}
	t := &Template{name: name, text: text, tmpl: tmpl}
	if tmpl.Tree != nil && tmpl.Tree.Root != nil {
		seen := make(map[string]struct{})
		collectList(tmpl.Tree.Root, false, seen, &t.placeholders)
	}
	return t, nil
}

// MustParse Parse 失败时 panic，用于包级模板常量
func MustParse(name, text string) *Template {
	t, err := Parse(name, text)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) Name() string { return t.name }
func (t *Template) Text() string { return t.text }

// Placeholders 返回按出现顺序去重的顶层占位符
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Validate 检查占位符都在 fields 中，返回第一个缺失的
func (t *Template) Validate(fields []string) error {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	for _, p := range t.placeholders {
		if _, ok := allowed[p]; !ok {
			return types.NewTemplateError(p, fmt.Errorf("placeholder %q is not an input field of template %s", p, t.name))
		}
	}
	return nil
}

// Render 用 vars 渲染模板
func (t *Template) Render(vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", templateExecError(err)
	}
	return buf.String(), nil
}

// Render 解析并渲染一次性模板
func Render(text string, vars map[string]any) (string, error) {
	t, err := Parse("inline", text)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

func templateExecError(err error) error {
	if m := missingKeyPattern.FindStringSubmatch(err.Error()); m != nil {
		return types.NewTemplateError(m[1], err)
	}
	var execErr template.ExecError
	if errors.As(err, &execErr) {
		return types.NewTemplateError("", execErr)
	}
	return types.NewTemplateError("", err)
}

// =============================================================================
// 语法树遍历
// =============================================================================

// collectList 遍历节点列表。inScope 为 true 表示位于 range/with 体内，dot 已不是根。
func collectList(list *parse.ListNode, inScope bool, seen map[string]struct{}, out *[]string) {
	if list == nil {
		return
	}
	for _, n := range list.Nodes {
		collectNode(n, inScope, seen, out)
	}
}

func collectNode(n parse.Node, inScope bool, seen map[string]struct{}, out *[]string) {
	switch node := n.(type) {
	case *parse.ActionNode:
		collectPipe(node.Pipe, inScope, seen, out)
	case *parse.IfNode:
		collectPipe(node.Pipe, inScope, seen, out)
		collectList(node.List, inScope, seen, out)
		collectList(node.ElseList, inScope, seen, out)
	case *parse.RangeNode:
		collectPipe(node.Pipe, inScope, seen, out)
		collectList(node.List, true, seen, out)
		collectList(node.ElseList, inScope, seen, out)
	case *parse.WithNode:
		collectPipe(node.Pipe, inScope, seen, out)
		collectList(node.List, true, seen, out)
		collectList(node.ElseList, inScope, seen, out)
	case *parse.TemplateNode:
		collectPipe(node.Pipe, inScope, seen, out)
	case *parse.ListNode:
		collectList(node, inScope, seen, out)
	}
}

func collectPipe(pipe *parse.PipeNode, inScope bool, seen map[string]struct{}, out *[]string) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			collectArg(arg, inScope, seen, out)
		}
	}
}

func collectArg(n parse.Node, inScope bool, seen map[string]struct{}, out *[]string) {
	switch node := n.(type) {
	case *parse.FieldNode:
		if !inScope && len(node.Ident) > 0 {
			add(node.Ident[0], seen, out)
		}
	case *parse.VariableNode:
		// $.name 始终指向根
		if len(node.Ident) > 1 && node.Ident[0] == "$" {
			add(node.Ident[1], seen, out)
		}
	case *parse.ChainNode:
		collectArg(node.Node, inScope, seen, out)
	case *parse.PipeNode:
		collectPipe(node, inScope, seen, out)
	}
}

func add(name string, seen map[string]struct{}, out *[]string) {
	if _, ok := seen[name]; ok {
		return
	}
	seen[name] = struct{}{}
	*out = append(*out, name)
}

// =============================================================================
// helpers
// =============================================================================

func toStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case []any:
		out := make([]string, len(s))
		for i, it := range s {
			out[i] = fmt.Sprint(it)
		}
		return out
	case string:
		return []string{s}
	case json.Number:
		return []string{s.String()}
	default:
		return []string{fmt.Sprint(s)}
	}
}

func isEmpty(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	case []any:
		return len(s) == 0
	case []string:
		return len(s) == 0
	case map[string]any:
		return len(s) == 0
	case bool:
		return !s
	case json.Number:
		f, err := s.Float64()
		return err == nil && f == 0
	case float64:
		return s == 0
	case int:
		return s == 0
	}
	return false
}
