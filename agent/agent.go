package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/agent/prompt"
	"github.com/BaSui01/agentwrap/agent/structured"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/llm/cache"
	"github.com/BaSui01/agentwrap/llm/tokenizer"
	"github.com/BaSui01/agentwrap/llm/tools"
	"github.com/BaSui01/agentwrap/types"
)

const instrumentationName = "github.com/BaSui01/agentwrap/agent"

// Agent 由模板、模型与输出类型组成的可调用对象。并发安全：配置不可变，
// 可变状态只在缓存与记忆后端中。
type Agent[In, Out any] struct {
	cfg      Config
	template *prompt.Template
	target   structured.Target
	parser   *structured.Parser
	provider llm.Provider
	cache    cache.PromptCache
	memory   *memory.Manager
	executor *tools.DefaultExecutor
	schemas  []types.ToolSchema
	observer Observer
	logger   *zap.Logger

	tokenizer tokenizer.Tokenizer

	usesHistory  bool
	usesMemories bool

	flight singleflight.Group
}

// InvokeOption 单次调用选项
type InvokeOption func(*invokeOptions)

type invokeOptions struct {
	userID string
}

// WithUser 指定记忆作用域的用户
func WithUser(id string) InvokeOption {
	return func(o *invokeOptions) { o.userID = id }
}

// Name 返回 Agent 名称
func (a *Agent[In, Out]) Name() string { return a.cfg.Name }

// Description 返回 Agent 描述
func (a *Agent[In, Out]) Description() string { return a.cfg.Description }

// Config 返回配置副本
func (a *Agent[In, Out]) Config() Config { return a.cfg.clone() }

// Scope 返回用户在该 Agent 下的记忆作用域
func (a *Agent[In, Out]) Scope(userID string) types.MemoryScope {
	if userID == "" {
		userID = a.cfg.UserID
	}
	return types.NewMemoryScope(userID, a.cfg.Name)
}

// completion 是一次模型往返的结果（含工具循环与修复轮次）
type completion struct {
	output json.RawMessage
	raw    string
	tokens int
}

// result 是一次 Invoke 的内部结果
type result struct {
	completion
	prompt   string
	cacheHit bool
}

// Invoke 执行完整流程：绑定、记忆、渲染、缓存、模型与工具循环、解析修复、写缓存、追加记忆。
func (a *Agent[In, Out]) Invoke(ctx context.Context, in In, opts ...InvokeOption) (Out, error) {
	o := invokeOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "agent.invoke",
		trace.WithAttributes(
			attribute.String("agent.name", a.cfg.Name),
			attribute.String("llm.model", a.cfg.Model),
		))
	defer span.End()

	var out Out
	res, err := a.invoke(ctx, in, o)
	span.SetAttributes(attribute.Bool("cache_hit", res.cacheHit))
	a.observer.ObserveInvocation(a.cfg.Name, a.cfg.Model, statusOf(err), res.cacheHit, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("invocation failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return out, err
	}
	if err := json.Unmarshal(res.output, &out); err != nil {
		perr := types.NewResponseParseError(res.raw, err)
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		return out, perr
	}
	a.logger.Debug("invocation completed",
		zap.Bool("cache_hit", res.cacheHit),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (a *Agent[In, Out]) invoke(ctx context.Context, in In, o invokeOptions) (result, error) {
	var res result

	// 1. 绑定输入
	vars, err := prompt.Bind(in)
	if err != nil {
		return res, types.NewTemplateError("", err)
	}

	// 2. 记忆：最近窗口 + 语义召回
	scope := a.Scope(o.userID)
	ctx = types.WithUserID(types.WithAgent(ctx, scope.Agent), scope.UserID)
	var history []memory.Turn
	var recalled []types.MemoryRecord
	if a.memory != nil {
		history, recalled, err = a.loadMemory(ctx, scope, vars)
		if err != nil {
			return res, err
		}
		foldMemory(vars, history, recalled)
	}

	// 3. 渲染
	rendered, err := a.template.Render(vars)
	if err != nil {
		return res, err
	}
	res.prompt = rendered

	req := a.request(rendered, history, recalled, scope.UserID)

	// 4-7. 缓存 → 模型 → 解析 → 写缓存
	if a.cache != nil {
		res.completion, res.cacheHit, err = a.cached(ctx, req)
	} else {
		res.completion, err = a.complete(ctx, req)
	}
	if err != nil {
		return res, err
	}

	// 8. 追加记忆：一次调用，要么全部写入要么不写
	if a.memory != nil {
		turns := []memory.Turn{
			memory.NewTurn(types.RoleUser, rendered).WithMetadata(memory.MetaAgent, a.cfg.Name),
			memory.NewTurn(types.RoleAssistant, res.raw).WithMetadata(memory.MetaAgent, a.cfg.Name),
		}
		if err := a.memory.AppendTurns(ctx, scope, turns...); err != nil {
			return res, err
		}
	}
	return res, nil
}

// loadMemory 读取最近窗口，配置了召回时按输入文本检索 top-K
func (a *Agent[In, Out]) loadMemory(ctx context.Context, scope types.MemoryScope, vars map[string]any) ([]memory.Turn, []types.MemoryRecord, error) {
	var history []memory.Turn
	if a.cfg.MemoryWindow > 0 {
		turns, err := a.memory.Recent(ctx, scope, a.cfg.MemoryWindow)
		if err != nil {
			return nil, nil, err
		}
		history = turns
	}
	if a.cfg.RecallTopK <= 0 || !a.memory.HasSemantic() {
		return history, nil, nil
	}
	query := recallQuery(vars)
	if query == "" {
		return history, nil, nil
	}
	recs, err := a.memory.Recall(ctx, scope, query, a.cfg.RecallTopK)
	if err != nil {
		return nil, nil, err
	}
	return history, recs, nil
}

// foldMemory 把记忆写入渲染上下文；同名输入字段优先
func foldMemory(vars map[string]any, history []memory.Turn, recalled []types.MemoryRecord) {
	if _, ok := vars[VarHistory]; !ok {
		lines := make([]string, 0, len(history))
		for _, t := range history {
			lines = append(lines, string(t.Role)+": "+t.Content)
		}
		vars[VarHistory] = lines
	}
	if _, ok := vars[VarMemories]; !ok {
		contents := make([]string, 0, len(recalled))
		for _, r := range recalled {
			contents = append(contents, r.Content)
		}
		vars[VarMemories] = contents
	}
}

// recallQuery 取输入中的字符串字段（按字段名排序）拼接为检索文本
func recallQuery(vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		if s, ok := vars[k].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// request 组装模型请求。模板未引用 history / memories 时，
// 历史作为前置消息、召回结果追加到系统提示。
func (a *Agent[In, Out]) request(rendered string, history []memory.Turn, recalled []types.MemoryRecord, userID string) *llm.ChatRequest {
	var system []string
	if a.cfg.SystemPrompt != "" {
		system = append(system, a.cfg.SystemPrompt)
	}
	if len(recalled) > 0 && !a.usesMemories {
		var b strings.Builder
		b.WriteString("Relevant memories:")
		for _, r := range recalled {
			b.WriteString("\n- ")
			b.WriteString(r.Content)
		}
		system = append(system, b.String())
	}
	if ins := structured.Instructions(a.target); ins != "" {
		system = append(system, ins)
	}

	messages := make([]types.Message, 0, len(history)+2)
	if len(system) > 0 {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: strings.Join(system, "\n\n")})
	}
	if !a.usesHistory {
		var turns []types.Message
		for _, t := range history {
			if t.Role == types.RoleUser || t.Role == types.RoleAssistant {
				turns = append(turns, types.Message{Role: t.Role, Content: t.Content})
			}
		}
		messages = append(messages, a.trimHistory(turns)...)
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: rendered})

	return &llm.ChatRequest{
		UserID:      userID,
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Tools:       a.schemas,
		Timeout:     a.cfg.Timeout,
	}
}

// trimHistory 保留不超过 HistoryTokens 的最新轮次；计数失败时不裁剪
func (a *Agent[In, Out]) trimHistory(turns []types.Message) []types.Message {
	if a.tokenizer == nil {
		return turns
	}
	kept, err := tokenizer.TrimToBudget(a.tokenizer, turns, a.cfg.HistoryTokens)
	if err != nil {
		a.logger.Warn("token count failed, history not trimmed", zap.Error(err))
		return turns
	}
	return kept
}

// cached 先查缓存；未命中时同指纹的并发调用共享一次模型往返，成功后只新增缓存条目
func (a *Agent[In, Out]) cached(ctx context.Context, req *llm.ChatRequest) (completion, bool, error) {
	key := cache.Fingerprint(req)
	if entry, err := a.cache.Get(ctx, key); err == nil {
		a.observer.ObserveCache(a.cfg.Name, true)
		a.logger.Debug("cache hit", zap.String("fingerprint", key))
		return completion{output: entry.Output, raw: entry.Raw}, true, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		a.logger.Warn("cache lookup failed", zap.String("fingerprint", key), zap.Error(err))
	}
	a.observer.ObserveCache(a.cfg.Name, false)

	// 共享的往返不随任一调用方取消；每个调用方仍按自己的 ctx 退出等待，
	// 单次模型调用仍受 Config.Timeout 约束
	flightCtx := context.WithoutCancel(ctx)
	ch := a.flight.DoChan(key, func() (any, error) {
		c, err := a.complete(flightCtx, req)
		if err != nil {
			return nil, err
		}
		entry := &cache.Entry{
			Agent:       a.cfg.Name,
			Model:       a.cfg.Model,
			Output:      c.output,
			Raw:         c.raw,
			TokensSaved: c.tokens,
		}
		if _, err := a.cache.SetIfAbsent(flightCtx, key, entry, a.cfg.CacheTTL); err != nil {
			a.logger.Warn("cache populate failed", zap.String("fingerprint", key), zap.Error(err))
		}
		return c, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return completion{}, false, types.NewModelInvocationError(a.provider.Name(), ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return completion{}, false, res.Err
	}
	if res.Shared {
		a.logger.Debug("shared in-flight completion", zap.String("fingerprint", key))
	}
	return res.Val.(completion), false, nil
}

// complete 运行有界工具循环，再解析最终文本（含修复轮次）
func (a *Agent[In, Out]) complete(ctx context.Context, req *llm.ChatRequest) (completion, error) {
	var c completion
	conversation := append([]types.Message(nil), req.Messages...)

	// 工具循环：observations 累积助手的工具调用与工具结果
	var final string
	done := false
	for i := 0; i < a.cfg.MaxToolIterations; i++ {
		resp, err := a.call(ctx, req, conversation)
		if err != nil {
			return c, err
		}
		c.tokens += resp.Usage.TotalTokens
		msg := resp.FirstMessage()
		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			done = true
			break
		}
		observations := a.runTools(ctx, msg)
		conversation = append(conversation, observations...)
		a.logger.Debug("tool round completed", zap.Int("iteration", i+1), zap.Int("calls", len(msg.ToolCalls)))
	}
	if !done {
		return c, types.NewToolLoopExceededError(a.cfg.MaxToolIterations)
	}

	// 解析，失败时请求模型重新格式化
	raw := final
	for attempt := 0; ; attempt++ {
		out, perr := a.parser.Parse(raw, a.target)
		if perr == nil {
			c.output, c.raw = out, raw
			return c, nil
		}
		if attempt >= a.cfg.MaxRepairs {
			return c, perr
		}
		a.observer.ObserveRepair(a.cfg.Name)
		a.logger.Debug("repairing unparsable output", zap.Int("attempt", attempt+1), zap.Error(perr))

		conversation = append(conversation,
			types.Message{Role: types.RoleAssistant, Content: raw},
			types.Message{Role: types.RoleUser, Content: structured.RepairPrompt(raw, perr, a.target)},
		)
		repair := *req
		repair.Tools = nil
		resp, err := a.call(ctx, &repair, conversation)
		if err != nil {
			return c, err
		}
		c.tokens += resp.Usage.TotalTokens
		raw = resp.FirstMessage().Content
	}
}

// runTools 执行一轮工具调用，返回要回灌给模型的消息
func (a *Agent[In, Out]) runTools(ctx context.Context, msg types.Message) []types.Message {
	out := make([]types.Message, 0, len(msg.ToolCalls)+1)
	out = append(out, types.Message{Role: types.RoleAssistant, Content: msg.Content, ToolCalls: msg.ToolCalls})
	if a.executor == nil {
		for _, call := range msg.ToolCalls {
			r := types.ToolResult{ToolCallID: call.ID, Name: call.Name, Error: fmt.Sprintf("tool not found: %s", call.Name)}
			out = append(out, r.ToMessage())
		}
		return out
	}
	for _, r := range a.executor.Execute(ctx, msg.ToolCalls) {
		out = append(out, r.ToMessage())
	}
	return out
}

// call 发起一次模型调用，失败统一为 ModelInvocationError
func (a *Agent[In, Out]) call(ctx context.Context, base *llm.ChatRequest, messages []types.Message) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewModelInvocationError(a.provider.Name(), err)
	}
	req := *base
	req.Messages = messages

	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	resp, err := a.provider.Completion(callCtx, &req)
	if err != nil {
		if types.IsErrorCode(err, types.ErrModelInvocation) {
			return nil, err
		}
		return nil, types.NewModelInvocationError(a.provider.Name(), err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, types.NewModelInvocationError(a.provider.Name(), errors.New("empty response"))
	}
	return resp, nil
}
