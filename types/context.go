package types

import "context"

// ctxKey 私有类型，避免与其他包的 context 键冲突
type ctxKey uint8

const (
	traceKey ctxKey = iota
	requestKey
	userKey
	agentKey
)

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// value 空字符串视为未设置
func value(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithTraceID 由 OTel 中间件写入当前 span 的 trace id
func WithTraceID(ctx context.Context, id string) context.Context { return withValue(ctx, traceKey, id) }
func TraceID(ctx context.Context) (string, bool)                 { return value(ctx, traceKey) }

// WithRequestID 对应 X-Request-ID 头
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestKey, id)
}
func RequestID(ctx context.Context) (string, bool) { return value(ctx, requestKey) }

// WithUserID 记忆作用域中的用户，来自 JWT subject 或调用参数
func WithUserID(ctx context.Context, id string) context.Context { return withValue(ctx, userKey, id) }
func UserID(ctx context.Context) (string, bool)                 { return value(ctx, userKey) }

// WithAgent 当前处理调用的 Agent 名称，工具据此定位记忆作用域
func WithAgent(ctx context.Context, name string) context.Context { return withValue(ctx, agentKey, name) }
func Agent(ctx context.Context) (string, bool)                   { return value(ctx, agentKey) }
