package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

func newRegistry(t *testing.T, ts ...Tool) *DefaultRegistry {
	t.Helper()
	r := NewDefaultRegistry(zap.NewNop())
	for _, tool := range ts {
		require.NoError(t, r.RegisterTool(tool))
	}
	return r
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := newRegistry(t, CurrentTime(nil), Calculator())

	assert.True(t, r.Has("calculator"))
	assert.False(t, r.Has("missing"))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "calculator", list[0].Name, "list is sorted by name")
	assert.Equal(t, "current_time", list[1].Name)

	err := r.RegisterTool(Calculator())
	assert.Error(t, err, "duplicate registration")

	_, err = r.Schemas("calculator", "nope")
	assert.True(t, types.IsErrorCode(err, types.ErrToolNotFound))

	require.NoError(t, r.Unregister("calculator"))
	assert.False(t, r.Has("calculator"))
	assert.Error(t, r.Unregister("calculator"))
}

func TestRegistry_NameMismatch(t *testing.T) {
	r := NewDefaultRegistry(nil)
	err := r.Register("a", func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil },
		ToolMetadata{Schema: types.ToolSchema{Name: "b"}})
	assert.Error(t, err)
}

func TestFunc_SchemaGeneration(t *testing.T) {
	tool := Calculator()

	var schema map[string]any
	require.NoError(t, json.Unmarshal(tool.Schema.Parameters, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.NotContains(t, schema, "$schema")

	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "expression")
	assert.Contains(t, schema["required"], "expression")
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"-2^2", -4},
		{"2^3^2", 512},
		{"10 % 4", 2},
		{"7 / 2", 3.5},
		{"-(1.5 + 0.5)", -2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	for _, bad := range []string{"", "1/0", "2 +", "(1", "1 2", "abc"} {
		_, err := Evaluate(bad)
		assert.Error(t, err, bad)
	}
}

func TestExecutor_ExecuteInOrder(t *testing.T) {
	r := newRegistry(t, Calculator())
	exec := NewDefaultExecutor(r, zap.NewNop())

	results := exec.Execute(context.Background(), []types.ToolCall{
		{ID: "1", Name: "calculator", Arguments: json.RawMessage(`{"expression":"1+1"}`)},
		{ID: "2", Name: "missing", Arguments: json.RawMessage(`{}`)},
		{ID: "3", Name: "calculator", Arguments: json.RawMessage(`{"expression":"6*7"}`)},
	})
	require.Len(t, results, 3)

	assert.Equal(t, "1", results[0].ToolCallID)
	assert.JSONEq(t, `{"expression":"1+1","result":2}`, string(results[0].Result))

	assert.True(t, results[1].IsError())
	assert.Contains(t, results[1].Error, "tool not found")

	assert.JSONEq(t, `{"expression":"6*7","result":42}`, string(results[2].Result))
}

func TestExecutor_ErrorsBecomeObservations(t *testing.T) {
	r := newRegistry(t, Calculator())
	exec := NewDefaultExecutor(r, nil)

	res := exec.ExecuteOne(context.Background(), types.ToolCall{ID: "x", Name: "calculator", Arguments: json.RawMessage(`{"expression":"1/0"}`)})
	assert.Equal(t, "division by zero", res.Error)
	assert.Equal(t, "Error: division by zero", res.ToMessage().Content)

	res = exec.ExecuteOne(context.Background(), types.ToolCall{ID: "y", Name: "calculator", Arguments: json.RawMessage(`{bad`)})
	assert.Contains(t, res.Error, "invalid arguments")
}

func TestExecutor_Timeout(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("slow", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		time.Sleep(200 * time.Millisecond)
		return json.RawMessage(`"late"`), nil
	}, ToolMetadata{Timeout: 20 * time.Millisecond}))

	res := NewDefaultExecutor(r, nil).ExecuteOne(context.Background(), types.ToolCall{ID: "1", Name: "slow"})
	assert.Contains(t, res.Error, "timeout")
}

func TestExecutor_RateLimit(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("limited", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	}, ToolMetadata{RateLimit: &RateLimitConfig{MaxCalls: 2, Window: time.Hour}}))

	var observed []string
	exec := NewDefaultExecutor(r, nil).WithObserver(func(name string, _ time.Duration, errMsg string) {
		observed = append(observed, errMsg)
	})
	ctx := context.Background()
	call := types.ToolCall{ID: "1", Name: "limited"}

	assert.Empty(t, exec.ExecuteOne(ctx, call).Error)
	assert.Empty(t, exec.ExecuteOne(ctx, call).Error)
	assert.Equal(t, "rate limit exceeded", exec.ExecuteOne(ctx, call).Error)
	assert.Equal(t, []string{"", "", "rate limit exceeded"}, observed)
}

func TestExecutor_MaxParallel(t *testing.T) {
	var running, peak atomic.Int32
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("work", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return json.RawMessage(`true`), nil
	}, ToolMetadata{}))

	calls := make([]types.ToolCall, 6)
	for i := range calls {
		calls[i] = types.ToolCall{ID: string(rune('a' + i)), Name: "work"}
	}
	results := NewDefaultExecutor(r, nil).WithMaxParallel(2).Execute(context.Background(), calls)

	require.Len(t, results, 6)
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.ToolCallID)
		assert.Empty(t, res.Error)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecutor_Panic(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register("boom", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		panic("kaboom")
	}, ToolMetadata{}))

	res := NewDefaultExecutor(r, nil).ExecuteOne(context.Background(), types.ToolCall{ID: "1", Name: "boom"})
	assert.Contains(t, res.Error, "kaboom")
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tool := CurrentTime(func() time.Time { return fixed })

	out, err := tool.Fn(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"timezone":"UTC","time":"2026-01-02T03:04:05Z","unix":1767323045}`, string(out))

	_, err = tool.Fn(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

type fakeRecaller struct {
	scope types.MemoryScope
	topK  int
	err   error
}

func (f *fakeRecaller) Recall(_ context.Context, scope types.MemoryScope, query string, topK int) ([]types.MemoryRecord, error) {
	f.scope, f.topK = scope, topK
	if f.err != nil {
		return nil, f.err
	}
	return []types.MemoryRecord{{ID: "r1", Content: "likes tea: " + query, Score: 0.9}}, nil
}

func TestMemoryRecall(t *testing.T) {
	rec := &fakeRecaller{}
	scope := types.NewMemoryScope("alice", "assistant")
	tool := MemoryRecall(rec, scope)

	out, err := tool.Fn(context.Background(), json.RawMessage(`{"query":"drinks"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"r1","content":"likes tea: drinks","score":0.9}]`, string(out))
	assert.Equal(t, scope, rec.scope)
	assert.Equal(t, 5, rec.topK)

	rec.err = errors.New("down")
	_, err = tool.Fn(context.Background(), json.RawMessage(`{"query":"x","top_k":3}`))
	assert.Error(t, err)
	assert.Equal(t, 3, rec.topK)
}

func TestMemoryRecall_ScopeFromContext(t *testing.T) {
	rec := &fakeRecaller{}
	tool := MemoryRecall(rec, types.MemoryScope{})

	ctx := types.WithUserID(types.WithAgent(context.Background(), "assistant"), "bob")
	_, err := tool.Fn(ctx, json.RawMessage(`{"query":"drinks"}`))
	require.NoError(t, err)
	assert.Equal(t, types.NewMemoryScope("bob", "assistant"), rec.scope)

	// 未绑定用户时回退到默认用户
	_, err = tool.Fn(types.WithAgent(context.Background(), "assistant"), json.RawMessage(`{"query":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultUser, rec.scope.UserID)
}
