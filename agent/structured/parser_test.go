package structured

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentwrap/types"
)

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type ticket struct {
	Title    string   `json:"title"`
	Priority string   `json:"priority" jsonschema:"enum=low,enum=high"`
	Labels   []string `json:"labels,omitempty"`
}

func TestTargetFor(t *testing.T) {
	assert.Equal(t, KindString, TargetFor[string]().Kind)
	assert.Equal(t, KindScalar, TargetFor[int]().Kind)

	list := TargetFor[[]string]()
	assert.Equal(t, KindList, list.Kind)
	assert.Equal(t, TypeString, list.Items.Type)

	obj := TargetFor[person]()
	require.Equal(t, KindObject, obj.Kind)
	require.NotNil(t, obj.Schema)
	assert.Equal(t, TypeObject, obj.Schema.Type)
	assert.ElementsMatch(t, []string{"name", "age"}, obj.Schema.Required)
	assert.Equal(t, TypeInteger, obj.Schema.Properties["age"].Type)

	tk := TargetFor[*ticket]()
	assert.NotContains(t, tk.Schema.Required, "labels")
	assert.Equal(t, []any{"low", "high"}, tk.Schema.Properties["priority"].Enum)

	people := TargetFor[[]person]()
	assert.Equal(t, KindList, people.Kind)
	assert.Equal(t, TypeObject, people.Items.Type)
}

func TestParse_StructuredRecord(t *testing.T) {
	p := NewParser(zap.NewNop())

	got, err := Parse[person](p, `{"name": "Alice", "age": 30}`)
	require.NoError(t, err)
	assert.Equal(t, person{Name: "Alice", Age: 30}, got)

	_, err = Parse[person](p, `{"name": "Alice"}`)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrResponseParse))

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"age"}, verrs.Paths())
	assert.Contains(t, err.Error(), "age: required field missing")

	te, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, `{"name": "Alice"}`, te.Raw)
}

func TestParse_ToleratesProseAndFences(t *testing.T) {
	p := NewParser(nil)
	cases := map[string]string{
		"fenced":        "Sure!\n```json\n{\"name\":\"Bob\",\"age\":41}\n```\nAnything else?",
		"prose":         `The answer is {"name":"Bob","age":41} as requested.`,
		"whole float":   `{"name":"Bob","age":41.0}`,
		"trailing text": `{"name":"Bob","age":41} {"name":"Other","age":1}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Parse[person](p, raw)
			require.NoError(t, err)
			assert.Equal(t, person{Name: "Bob", Age: 41}, got)
		})
	}
}

func TestParse_RepairsMalformedJSON(t *testing.T) {
	p := NewParser(nil)

	got, err := Parse[person](p, `{'name': 'Carol', 'age': 28,}`)
	require.NoError(t, err)
	assert.Equal(t, person{Name: "Carol", Age: 28}, got)

	got, err = Parse[person](p, `{"name": "Dan", "age": 33`)
	require.NoError(t, err)
	assert.Equal(t, person{Name: "Dan", Age: 33}, got)
}

func TestParse_NoJSON(t *testing.T) {
	_, err := Parse[person](NewParser(nil), "I cannot help with that.")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrResponseParse))
	assert.True(t, errors.Is(err, errNoJSON))
}

func TestParse_Enum(t *testing.T) {
	p := NewParser(nil)

	got, err := Parse[ticket](p, `{"title":"login broken","priority":"high"}`)
	require.NoError(t, err)
	assert.Equal(t, "high", got.Priority)

	_, err = Parse[ticket](p, `{"title":"login broken","priority":"urgent"}`)
	assert.ErrorContains(t, err, "priority: value must be one of")
}

func TestParse_Lists(t *testing.T) {
	p := NewParser(nil)

	items, err := Parse[[]string](p, "1. apples\n2) pears\n\n- plums\n* figs")
	require.NoError(t, err)
	assert.Equal(t, []string{"apples", "pears", "plums", "figs"}, items)

	items, err = Parse[[]string](p, `Here you go: ["a", "b"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	nums, err := Parse[[]int](p, "- 1\n- 2\n- 3")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, nums)

	_, err = Parse[[]int](p, "- 1\n- two")
	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"[1]"}, verrs.Paths())

	people, err := Parse[[]person](p, "```json\n[{\"name\":\"A\",\"age\":1},{\"name\":\"B\",\"age\":2}]\n```")
	require.NoError(t, err)
	assert.Len(t, people, 2)

	items, err = Parse[[]string](p, "Some ideas:\n- apples\n- pears\nEnjoy!")
	require.NoError(t, err)
	assert.Equal(t, []string{"apples", "pears"}, items)

	empty, err := Parse[[]string](p, "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParse_StringAndScalars(t *testing.T) {
	p := NewParser(nil)

	s, err := Parse[string](p, "```\nhello world\n```")
	require.NoError(t, err)
	assert.Equal(t, "hello world", s)

	s, err = Parse[string](p, "  plain answer \n")
	require.NoError(t, err)
	assert.Equal(t, "plain answer", s)

	n, err := Parse[int](p, " 42\n")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	b, err := Parse[bool](p, "True.")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = Parse[int](p, "forty two")
	assert.True(t, types.IsErrorCode(err, types.ErrResponseParse))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"object", `x {"a":1} y`, `{"a":1}`, true},
		{"array", `list: [1, [2, 3]] end`, `[1, [2, 3]]`, true},
		{"braces in strings", `note {"a":"}{","b":"[\"x\"]"} tail`, `{"a":"}{","b":"[\"x\"]"}`, true},
		{"fence preferred", "{not json}\n```json\n{\"a\":2}\n```", `{"a":2}`, true},
		{"skips invalid bracket prose", `[draft] {"a":3}`, `{"a":3}`, true},
		{"truncated", `prefix {"a": [1, 2`, `{"a": [1, 2`, false},
		{"none", `no json here`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepairPromptAndInstructions(t *testing.T) {
	p := NewParser(nil)
	target := TargetFor[person]()

	_, err := p.Parse(`{"name":"Alice"}`, target)
	require.Error(t, err)

	msg := RepairPrompt(`{"name":"Alice"}`, err, target)
	assert.Contains(t, msg, "age: required field missing")
	assert.Contains(t, msg, `{"name":"Alice"}`)
	assert.Contains(t, msg, `"required":["name","age"]`)

	assert.Empty(t, Instructions(StringTarget()))
	assert.Contains(t, Instructions(ListTarget(nil)), "one item per line")
}

// 任意嵌入在说明文字中的合法对象都能被完整取出
func TestExtractJSON_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringMatching(`[a-zA-Z{}\[\] ]{0,12}`).Draw(t, "name")
		age := rapid.IntRange(0, 150).Draw(t, "age")
		prefix := rapid.StringMatching(`[a-z ,.:]{0,20}`).Draw(t, "prefix")

		raw := prefix + `{"name":` + strconv.Quote(name) + `,"age":` + strconv.Itoa(age) + `}` + " thanks"
		got, err := Parse[person](NewParser(nil), raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got.Name != name || got.Age != age {
			t.Fatalf("got %+v from %q", got, raw)
		}
	})
}
