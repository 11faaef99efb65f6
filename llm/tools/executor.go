package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentwrap/types"
)

// Observer 每次工具执行结束后回调，errMsg 为空表示成功
type Observer func(name string, d time.Duration, errMsg string)

// DefaultMaxParallel 单轮工具调用的并发上限
const DefaultMaxParallel = 8

// DefaultExecutor 执行模型请求的工具调用。
// 任何失败都落在 ToolResult.Error 里交还模型，不中断工具循环。
type DefaultExecutor struct {
	registry    ToolRegistry
	logger      *zap.Logger
	observe     Observer
	maxParallel int
}

func NewDefaultExecutor(registry ToolRegistry, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{
		registry:    registry,
		logger:      logger.Named("tools"),
		maxParallel: DefaultMaxParallel,
	}
}

func (e *DefaultExecutor) WithObserver(o Observer) *DefaultExecutor {
	e.observe = o
	return e
}

// WithMaxParallel n<=0 表示不限
func (e *DefaultExecutor) WithMaxParallel(n int) *DefaultExecutor {
	e.maxParallel = n
	return e
}

// Execute 结果与 calls 一一对应
func (e *DefaultExecutor) Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

var errRateLimited = errors.New("rate limit exceeded")

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	out, err := e.run(ctx, call)

	res := types.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: out, Duration: time.Since(start)}
	log := e.logger.With(zap.String("tool", call.Name), zap.Duration("duration", res.Duration))
	if err != nil {
		res.Error = err.Error()
		log.Warn("tool call failed", zap.Error(err))
	} else {
		log.Debug("tool call done")
	}
	if e.observe != nil {
		e.observe(call.Name, res.Duration, res.Error)
	}
	return res
}

func (e *DefaultExecutor) run(ctx context.Context, call types.ToolCall) (json.RawMessage, error) {
	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		return nil, fmt.Errorf("tool not found: %s", call.Name)
	}
	if reg, ok := e.registry.(*DefaultRegistry); ok && !reg.allow(call.Name) {
		return nil, errRateLimited
	}
	if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
		return nil, errors.New("invalid arguments: not valid JSON")
	}

	callCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		out json.RawMessage
		err error
	}
	// 缓冲为 1：超时返回后工具 goroutine 仍可写入并退出
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := fn(callCtx, call.Arguments)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled: %w", err)
		}
		return nil, fmt.Errorf("execution timeout after %s", meta.Timeout)
	}
}
