package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/llm/retry"
	"github.com/BaSui01/agentwrap/types"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// MaxFailures 连续失败多少次后熔断
	MaxFailures uint32 `yaml:"max_failures" env:"MAX_FAILURES"`
	// Timeout 熔断打开后多久进入半开状态
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// Interval 关闭状态下清零失败计数的周期
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// DefaultBreakerConfig 返回默认熔断配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		Interval:    60 * time.Second,
	}
}

// ResilientProvider 具有弹性能力的 Provider 包装器：重试 → 熔断 → 底层 Provider。
// 所有失败都以 MODEL_INVOCATION_ERROR 返回。
type ResilientProvider struct {
	provider Provider
	retryer  retry.Retryer
	breaker  *gobreaker.CircuitBreaker[*ChatResponse]
	timeout  time.Duration
	observe  func(provider, model, status string, d time.Duration, usage ChatUsage)
	logger   *zap.Logger
}

// ResilientConfig 弹性 Provider 配置
type ResilientConfig struct {
	Retry   *retry.RetryPolicy
	Breaker BreakerConfig
	// Timeout 单次模型调用超时；ChatRequest.Timeout 优先
	Timeout time.Duration
	// Observe 每次 Completion 结束后回调，用于指标采集
	Observe func(provider, model, status string, d time.Duration, usage ChatUsage)
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, cfg ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "resilient_provider"), zap.String("provider", provider.Name()))

	bc := cfg.Breaker
	def := DefaultBreakerConfig()
	if bc.MaxFailures == 0 {
		bc.MaxFailures = def.MaxFailures
	}
	if bc.Timeout == 0 {
		bc.Timeout = def.Timeout
	}
	if bc.Interval == 0 {
		bc.Interval = def.Interval
	}

	breaker := gobreaker.NewCircuitBreaker[*ChatResponse](gobreaker.Settings{
		Name:        "llm:" + provider.Name(),
		MaxRequests: 1,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变更",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// 请求参数错误等不可重试错误不应触发熔断
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || !types.IsRetryable(err)
		},
	})

	return &ResilientProvider{
		provider: provider,
		retryer:  retry.NewBackoffRetryer(cfg.Retry, logger),
		breaker:  breaker,
		timeout:  cfg.Timeout,
		observe:  cfg.Observe,
		logger:   logger,
	}
}

// Completion 实现 Provider.Completion
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	timeout := rp.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	var resp *ChatResponse
	err := rp.retryer.Do(ctx, func() error {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		r, err := rp.breaker.Execute(func() (*ChatResponse, error) {
			return rp.provider.Completion(callCtx, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewError(types.ErrServiceUnavailable, "circuit open for provider "+rp.provider.Name()).
				WithCause(err).
				WithProvider(rp.provider.Name())
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return types.NewError(types.ErrTimeout, "model call timed out").
					WithCause(err).
					WithRetryable(true).
					WithProvider(rp.provider.Name())
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		rp.record(req.Model, err, start, ChatUsage{})
		if types.IsErrorCode(err, types.ErrModelInvocation) {
			return nil, err
		}
		rp.logger.Warn("模型调用失败", zap.Error(err))
		return nil, types.NewModelInvocationError(rp.provider.Name(), err)
	}
	rp.record(req.Model, nil, start, resp.Usage)
	return resp, nil
}

func (rp *ResilientProvider) record(model string, err error, start time.Time, usage ChatUsage) {
	if rp.observe == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if code := types.GetErrorCode(err); code != "" {
			status = string(code)
		}
	}
	rp.observe(rp.provider.Name(), model, status, time.Since(start), usage)
}

// HealthCheck 委托给底层 Provider
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 实现 Provider.Name
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}

// SupportsNativeFunctionCalling 委托给底层 Provider
func (rp *ResilientProvider) SupportsNativeFunctionCalling() bool {
	return rp.provider.SupportsNativeFunctionCalling()
}

// State 返回熔断器当前状态，用于健康检查
func (rp *ResilientProvider) State() gobreaker.State {
	return rp.breaker.State()
}
