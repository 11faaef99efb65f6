package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentwrap/types"
)

func TestParse_Placeholders(t *testing.T) {
	tmpl, err := Parse("t", `Hello {{.name}}!
{{if .verbose}}Details: {{.details}}{{end}}
{{range .items}}- {{.title}} ({{$.owner}})
{{end}}
{{with .profile}}{{.age}}{{end}}
{{join ", " .tags | upper}}`)
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"name", "verbose", "details", "items", "owner", "profile", "tags"},
		tmpl.Placeholders(),
		"range/with bodies refer to the element, not the input")
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("bad", "{{.name")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTemplate))
}

func TestValidate(t *testing.T) {
	tmpl := MustParse("t", "{{.question}} in {{.language}}")

	assert.NoError(t, tmpl.Validate([]string{"question", "language", "extra"}))

	err := tmpl.Validate([]string{"question"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTemplate))
	assert.Contains(t, err.Error(), `"language"`)
}

func TestRender(t *testing.T) {
	tmpl := MustParse("t", `Summarise for {{.audience | default "everyone"}}:
{{bullet .points}}
{{if .urgent}}URGENT{{else}}routine{{end}}`)

	out, err := tmpl.Render(map[string]any{
		"audience": "",
		"points":   []any{"one", "two"},
		"urgent":   false,
	})
	require.NoError(t, err)
	assert.Equal(t, "Summarise for everyone:\n- one\n- two\nroutine", out)
}

func TestRender_RangeOverSlice(t *testing.T) {
	out, err := Render(`{{range $i, $c := .cities}}{{if $i}}, {{end}}{{$c}}{{end}}`, map[string]any{
		"cities": []string{"Paris", "Tokyo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris, Tokyo", out)
}

func TestRender_MissingKey(t *testing.T) {
	tmpl := MustParse("t", "{{.a}} and {{.b}}")

	_, err := tmpl.Render(map[string]any{"a": 1})
	require.Error(t, err)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrTemplate, e.Code)
	assert.Contains(t, e.Message, `"b"`)
}

func TestRender_JSONFunc(t *testing.T) {
	out, err := Render(`{{json .v}}`, map[string]any{"v": map[string]any{"k": []any{1.0, "x"}}})
	require.NoError(t, err)
	assert.Equal(t, `{"k":[1,"x"]}`, out)
}

type question struct {
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
	Internal string   `json:"-"`
	Plain    int
	hidden   bool
}

type wrapped struct {
	question
	Lang string `json:"lang"`
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, []string{"text", "tags", "Plain"}, FieldNames(question{}))
	assert.Equal(t, []string{"text", "tags", "Plain", "lang"}, FieldNames(&wrapped{}))
	assert.Equal(t, []string{"a", "b"}, FieldNames(map[string]any{"b": 1, "a": 2}))
	assert.Equal(t, []string{"text", "tags", "Plain"}, FieldNamesOf[*question]())
	assert.Nil(t, FieldNames(42))
}

func TestBind(t *testing.T) {
	vars, err := Bind(question{Text: "hi", Tags: []string{"x"}, Plain: 3, hidden: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi", "tags": []any{"x"}, "Plain": json.Number("3")}, vars)

	_, err = Bind([]int{1})
	assert.Error(t, err)

	vars, err = Bind(nil)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

type order struct {
	ID      int64          `json:"order_id"`
	Note    string         `json:"note,omitempty"`
	Items   []string       `json:"items,omitempty"`
	Extra   map[string]int `json:"extra,omitempty"`
	Express bool           `json:"express,omitempty"`
}

func TestBind_OmitEmptyFieldsStayBound(t *testing.T) {
	vars, err := Bind(&order{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"order_id": json.Number("7"),
		"note":     "",
		"items":    []any{},
		"extra":    map[string]any{},
		"express":  false,
	}, vars)

	tmpl := MustParse("t", "Order {{.order_id}} note={{.note}}{{range .items}} {{.}}{{end}}{{if .express}} fast{{end}}")
	require.NoError(t, tmpl.Validate(FieldNamesOf[order]()))
	out, err := tmpl.Render(vars)
	require.NoError(t, err)
	assert.Equal(t, "Order 7 note=", out)
}

func TestBind_IntegersRenderExactly(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want string
	}{
		{"millions", 12345678, "Look up order 12345678"},
		{"beyond float precision", 1 << 60, "Look up order 1152921504606846976"},
		{"negative", -42, "Look up order -42"},
	}
	tmpl := MustParse("t", "Look up order {{.order_id}}")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars, err := Bind(order{ID: tt.id})
			require.NoError(t, err)
			out, err := tmpl.Render(vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestFuncs_JSONNumber(t *testing.T) {
	vars, err := Bind(map[string]any{"count": 0, "ids": []int64{1 << 60, 2}})
	require.NoError(t, err)

	out, err := MustParse("t", `{{default "none" .count}} {{join "," .ids}}`).Render(vars)
	require.NoError(t, err)
	assert.Equal(t, "none 1152921504606846976,2", out)
}

// 超集变量渲染永不失败；缺少任一占位符必定失败并指明该变量
func TestRender_SupersetProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z][a-z0-9_]{0,7}`), 1, 5, rapid.ID[string]).Draw(rt, "names")

		var sb strings.Builder
		for _, n := range names {
			sb.WriteString("{{." + n + "}} ")
		}
		tmpl, err := Parse("p", sb.String())
		if err != nil {
			rt.Fatalf("parse: %v", err)
		}

		vars := map[string]any{"zz_extra": "unused"}
		for _, n := range names {
			vars[n] = rapid.String().Draw(rt, "value")
		}
		if _, err := tmpl.Render(vars); err != nil {
			rt.Fatalf("superset render failed: %v", err)
		}

		missing := rapid.SampledFrom(names).Draw(rt, "missing")
		delete(vars, missing)
		_, err = tmpl.Render(vars)
		if !types.IsErrorCode(err, types.ErrTemplate) || !strings.Contains(err.Error(), `"`+missing+`"`) {
			rt.Fatalf("expected TemplateError naming %q, got %v", missing, err)
		}
	})
}
