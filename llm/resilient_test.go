package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/llm/retry"
	"github.com/BaSui01/agentwrap/testutil/mocks"
	"github.com/BaSui01/agentwrap/types"
)

func fastRetry(n int) *retry.RetryPolicy {
	return &retry.RetryPolicy{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func userRequest(text string) *llm.ChatRequest {
	return &llm.ChatRequest{Model: "test-model", Messages: []llm.Message{types.NewUserMessage(text)}}
}

func TestResilientProvider_PassesThrough(t *testing.T) {
	inner := mocks.NewScriptedProvider(mocks.Text("ok"))
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{Retry: fastRetry(2)}, zap.NewNop())

	resp, err := rp.Completion(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.FirstMessage().Content)
	assert.Equal(t, "scripted", rp.Name())
	assert.True(t, rp.SupportsNativeFunctionCalling())
}

func TestResilientProvider_RetriesRetryableErrors(t *testing.T) {
	transient := types.NewError(types.ErrRateLimited, "slow down").WithRetryable(true)
	inner := mocks.NewScriptedProvider(mocks.Fail(transient), mocks.Fail(transient), mocks.Text("finally"))
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{Retry: fastRetry(3)}, zap.NewNop())

	resp, err := rp.Completion(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "finally", resp.FirstMessage().Content)
	assert.Equal(t, 3, inner.CallCount())
}

func TestResilientProvider_WrapsFailuresAsModelInvocationError(t *testing.T) {
	inner := mocks.NewScriptedProvider(mocks.Fail(errors.New("connection refused")))
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{Retry: fastRetry(3)}, zap.NewNop())

	_, err := rp.Completion(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrModelInvocation, types.GetErrorCode(err))
	assert.Equal(t, 1, inner.CallCount(), "plain errors are not retried")
}

func TestResilientProvider_TimeoutBecomesModelInvocationError(t *testing.T) {
	inner := mocks.NewScriptedProvider(mocks.Step{Content: "late", Delay: 200 * time.Millisecond})
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{Retry: fastRetry(0), Timeout: 10 * time.Millisecond}, zap.NewNop())

	_, err := rp.Completion(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrModelInvocation, types.GetErrorCode(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResilientProvider_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transient := types.NewError(types.ErrUpstreamError, "502").WithRetryable(true)
	inner := mocks.NewScriptedProvider().WithFallback(func(*llm.ChatRequest) mocks.Step {
		return mocks.Fail(transient)
	})
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{
		Retry:   fastRetry(0),
		Breaker: llm.BreakerConfig{MaxFailures: 2, Timeout: time.Minute, Interval: time.Minute},
	}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := rp.Completion(context.Background(), userRequest("hi"))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, rp.State())

	_, err := rp.Completion(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, 2, inner.CallCount(), "open breaker must not reach the provider")
	inner2, ok := types.AsError(err)
	require.True(t, ok)
	assert.Contains(t, inner2.Error(), "circuit open")
}

func TestResilientProvider_NonRetryableErrorsDoNotTripBreaker(t *testing.T) {
	bad := types.NewError(types.ErrInvalidRequest, "bad request")
	inner := mocks.NewScriptedProvider().WithFallback(func(*llm.ChatRequest) mocks.Step {
		return mocks.Fail(bad)
	})
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{
		Retry:   fastRetry(0),
		Breaker: llm.BreakerConfig{MaxFailures: 1},
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, _ = rp.Completion(context.Background(), userRequest("hi"))
	}
	assert.Equal(t, gobreaker.StateClosed, rp.State())
	assert.Equal(t, 3, inner.CallCount())
}

func TestChatResponse_Helpers(t *testing.T) {
	var nilResp *llm.ChatResponse
	assert.Empty(t, nilResp.FirstMessage().Content)
	assert.False(t, nilResp.HasToolCalls())

	resp := &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: types.Message{
		ToolCalls: []types.ToolCall{{ID: "1", Name: "calc"}},
	}}}}
	assert.True(t, resp.HasToolCalls())
}

func TestResilientProvider_Observe(t *testing.T) {
	type call struct {
		provider, model, status string
	}
	var calls []call
	inner := mocks.NewScriptedProvider(mocks.Text("ok"), mocks.Fail(errors.New("boom")))
	rp := llm.NewResilientProvider(inner, llm.ResilientConfig{
		Retry: fastRetry(0),
		Observe: func(provider, model, status string, _ time.Duration, _ llm.ChatUsage) {
			calls = append(calls, call{provider, model, status})
		},
	}, zap.NewNop())

	_, err := rp.Completion(context.Background(), userRequest("a"))
	require.NoError(t, err)
	_, err = rp.Completion(context.Background(), userRequest("b"))
	require.Error(t, err)

	assert.Equal(t, []call{
		{"scripted", "test-model", "success"},
		{"scripted", "test-model", "error"},
	}, calls)
}
