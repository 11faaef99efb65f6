package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/router"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/testutil/mocks"
	"github.com/BaSui01/agentwrap/types"
)

type queryInput struct {
	Query string `json:"query"`
}

func buildEcho(t *testing.T, name, reply string) *Agent[queryInput, string] {
	t.Helper()
	p := mocks.NewScriptedProvider().WithFallback(func(*llm.ChatRequest) mocks.Step { return mocks.Text(reply) })
	a, err := New[queryInput, string](name).Description(name + " agent").Template("{{.query}}").Provider(p).Build()
	require.NoError(t, err)
	return a
}

func TestRegistry_Agents(t *testing.T) {
	r := NewRegistry(nil, nil, zap.NewNop())
	require.NoError(t, r.RegisterAgent(buildEcho(t, "weather", "sunny")))
	require.NoError(t, r.RegisterAgent(buildEcho(t, "general", "hello")))
	assert.Error(t, r.RegisterAgent(buildEcho(t, "weather", "again")))

	names := []string{}
	for _, a := range r.Agents() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"general", "weather"}, names)

	a, err := r.Agent("weather")
	require.NoError(t, err)
	assert.Equal(t, "weather agent", a.Description())

	_, err = r.Agent("nope")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	assert.NotNil(t, r.Tools())
}

func TestRegistry_RoutersAndDispatch(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil, zap.NewNop())
	require.NoError(t, r.RegisterAgent(buildEcho(t, "weather", "bring an umbrella")))
	require.NoError(t, r.RegisterAgent(buildEcho(t, "math", "4")))
	require.NoError(t, r.RegisterAgent(buildEcho(t, "general", "ha ha")))

	kw, err := router.NewKeywordRouter("main", []router.Route{
		{Name: "weather", Keywords: []string{"rain", "forecast"}},
		{Name: "math", Keywords: []string{"calculate"}},
		{Name: "general"},
	}, "general", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.RegisterRouter(kw))

	orphan, err := router.NewKeywordRouter("orphan", []router.Route{{Name: "missing", Keywords: []string{"x"}}}, "", zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, r.RegisterRouter(orphan))

	// 只有一个路由器时名称可省略
	rt, err := r.Router("")
	require.NoError(t, err)
	assert.Equal(t, "main", rt.Name())
	assert.Equal(t, []string{"main"}, r.Routers())

	d, out, err := r.Dispatch(ctx, "main", "Will it rain tomorrow?", nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, "weather", d.Agent)
	assert.Equal(t, "bring an umbrella", out)

	d, out, err = r.Dispatch(ctx, "main", "Tell me a joke", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "general", d.Route)
	assert.True(t, d.Fallback)
	assert.Equal(t, "ha ha", out)

	_, _, err = r.Dispatch(ctx, "other", "x", nil, "")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewManager(memory.DefaultConfig())
	r := NewRegistry(nil, mem, zap.NewNop())
	assert.Same(t, mem, r.Memory())

	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.Init(ctx))
	assert.Equal(t, memory.StateReady, mem.State())

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	assert.Equal(t, memory.StateClosed, mem.State())

	assert.ErrorIs(t, r.Init(ctx), ErrRegistryClosed)
	assert.ErrorIs(t, r.RegisterAgent(buildEcho(t, "late", "x")), ErrRegistryClosed)
}
