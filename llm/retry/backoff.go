package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// RetryPolicy 指数退避参数。第 n 次重试前等待
// InitialDelay * Multiplier^(n-1)，封顶 MaxDelay。
type RetryPolicy struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"` // 0 = 只调用一次
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter       bool          `yaml:"jitter" env:"JITTER"` // ±25%

	Retryable func(err error) bool                                 `yaml:"-" env:"-"` // 默认 types.IsRetryable
	OnRetry   func(attempt int, err error, delay time.Duration) `yaml:"-" env:"-"`
}

func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

// normalized 返回补齐非法字段后的副本
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	p.MaxRetries = max(p.MaxRetries, 0)
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Retryable == nil {
		p.Retryable = types.IsRetryable
	}
	return p
}

type Retryer interface {
	Do(ctx context.Context, fn func() error) error
}

type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer policy 为 nil 时使用 DefaultRetryPolicy
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{
		policy: policy.normalized(),
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 不可重试的错误原样返回；重试耗尽返回最后一次错误
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	err := fn()
	for attempt := 1; err != nil && attempt <= r.policy.MaxRetries; attempt++ {
		if !r.policy.Retryable(err) {
			return err
		}
		wait := r.delay(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, wait)
		}
		r.logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", wait),
			zap.Error(err),
		)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("retry cancelled: %w", serr)
		}
		if err = fn(); err == nil {
			r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
		}
	}
	if err != nil && r.policy.MaxRetries > 0 && r.policy.Retryable(err) {
		r.logger.Warn("retries exhausted", zap.Int("attempts", r.policy.MaxRetries+1), zap.Error(err))
	}
	return err
}

func (r *backoffRetryer) delay(attempt int) time.Duration {
	p := r.policy
	d := min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt-1)), float64(p.MaxDelay))
	if p.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, float64(p.InitialDelay)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
