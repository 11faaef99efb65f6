// Package mocks 提供测试用的模型 Provider 实现。
//
// ScriptedProvider 按顺序回放预设的响应或错误，并记录每次请求，
// 用于验证缓存命中（无第二次调用）、工具循环与修复轮次。
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/types"
)

// Step 是一次预设的模型回复
type Step struct {
	Content   string
	ToolCalls []types.ToolCall
	Err       error
	Delay     time.Duration
}

// ScriptedProvider 是 llm.Provider 的脚本化实现
type ScriptedProvider struct {
	mu    sync.Mutex
	name  string
	steps []Step
	// Fallback 在脚本耗尽后使用；为 nil 时返回错误
	fallback func(req *llm.ChatRequest) Step
	calls    []*llm.ChatRequest
}

// NewScriptedProvider 创建新的 ScriptedProvider
func NewScriptedProvider(steps ...Step) *ScriptedProvider {
	return &ScriptedProvider{name: "scripted", steps: steps}
}

// WithName 设置 Provider 名称
func (p *ScriptedProvider) WithName(name string) *ScriptedProvider {
	p.name = name
	return p
}

// WithFallback 设置脚本耗尽后的回复函数
func (p *ScriptedProvider) WithFallback(fn func(req *llm.ChatRequest) Step) *ScriptedProvider {
	p.fallback = fn
	return p
}

// Push 追加脚本步骤
func (p *ScriptedProvider) Push(steps ...Step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

// Text 构造纯文本回复步骤
func Text(content string) Step {
	return Step{Content: content}
}

// CallTool 构造工具调用回复步骤
func CallTool(id, name string, args any) Step {
	raw, _ := json.Marshal(args)
	return Step{ToolCalls: []types.ToolCall{{ID: id, Name: name, Arguments: raw}}}
}

// Fail 构造错误回复步骤
func Fail(err error) Step {
	return Step{Err: err}
}

// Completion 实现 llm.Provider
func (p *ScriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, cloneRequest(req))
	var step Step
	switch {
	case len(p.steps) > 0:
		step = p.steps[0]
		p.steps = p.steps[1:]
	case p.fallback != nil:
		step = p.fallback(req)
	default:
		p.mu.Unlock()
		return nil, fmt.Errorf("scripted provider: no response left for call %d", len(p.calls))
	}
	p.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step.Delay):
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	finish := "stop"
	if len(step.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:       fmt.Sprintf("scripted-%d", p.CallCount()),
		Provider: p.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message: types.Message{
				Role:      types.RoleAssistant,
				Content:   step.Content,
				ToolCalls: step.ToolCalls,
			},
		}},
		CreatedAt: time.Now(),
	}, nil
}

// HealthCheck 实现 llm.Provider
func (p *ScriptedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

// Name 实现 llm.Provider
func (p *ScriptedProvider) Name() string { return p.name }

// SupportsNativeFunctionCalling 实现 llm.Provider
func (p *ScriptedProvider) SupportsNativeFunctionCalling() bool { return true }

// CallCount 返回已发生的调用次数
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls 返回请求记录的副本
func (p *ScriptedProvider) Calls() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastRequest 返回最后一次请求
func (p *ScriptedProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func cloneRequest(req *llm.ChatRequest) *llm.ChatRequest {
	c := *req
	c.Messages = append([]types.Message(nil), req.Messages...)
	c.Tools = append([]types.ToolSchema(nil), req.Tools...)
	return &c
}
