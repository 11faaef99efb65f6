package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/llm"
)

// Collector 汇总 agentwrap 的 Prometheus 指标。
// 它满足 agent.Observer，同时为 HTTP、LLM、记忆、路由与数据库提供记录方法。
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	httpBytes    *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	invocations   *prometheus.CounterVec
	invokeLatency *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	toolLatency   *prometheus.HistogramVec
	repairs       *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec

	memoryOps      *prometheus.CounterVec
	routeDecisions *prometheus.CounterVec
	dbConnections  *prometheus.GaugeVec
}

// factory 在同一 namespace 下批量创建向量
type factory struct {
	promauto.Factory
	ns string
}

func (f factory) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return f.NewCounterVec(prometheus.CounterOpts{Namespace: f.ns, Name: name, Help: help}, labels)
}

func (f factory) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.ns, Name: name, Help: help, Buckets: buckets}, labels)
}

var (
	llmBuckets    = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	invokeBuckets = []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}
)

// NewCollector 在 reg 上注册全部指标，reg 为 nil 时用默认注册表。
// 同一注册表重复注册会 panic。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := factory{Factory: promauto.With(reg), ns: namespace}

	c := &Collector{
		httpRequests: f.counter("http_requests_total", "HTTP requests by method, route and status class.", "method", "path", "status"),
		httpLatency:  f.histogram("http_request_duration_seconds", "HTTP request latency.", prometheus.DefBuckets, "method", "path"),
		httpBytes:    f.histogram("http_response_size_bytes", "HTTP response body size.", prometheus.ExponentialBuckets(100, 10, 8), "method", "path"),

		llmRequests: f.counter("llm_requests_total", "Model backend calls.", "provider", "model", "status"),
		llmLatency:  f.histogram("llm_request_duration_seconds", "Model backend latency.", llmBuckets, "provider", "model"),
		llmTokens:   f.counter("llm_tokens_used_total", "Tokens reported by the model backend.", "provider", "model", "type"),

		invocations:   f.counter("agent_invocations_total", "Agent pipeline runs.", "agent", "model", "status", "cache_hit"),
		invokeLatency: f.histogram("agent_invocation_duration_seconds", "Agent pipeline latency.", invokeBuckets, "agent"),
		toolCalls:     f.counter("agent_tool_calls_total", "Tool calls executed inside the tool loop.", "agent", "tool", "status"),
		toolLatency:   f.histogram("agent_tool_duration_seconds", "Tool execution latency.", prometheus.DefBuckets, "tool"),
		repairs:       f.counter("agent_repair_rounds_total", "Reformat rounds after unparsable output.", "agent"),
		cacheLookups:  f.counter("cache_lookups_total", "Response cache lookups by result.", "agent", "result"),

		memoryOps:      f.counter("memory_operations_total", "Memory manager operations.", "operation", "status"),
		routeDecisions: f.counter("route_decisions_total", "Routing decisions.", "router", "route", "strategy", "fallback"),
		dbConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections", Help: "Database pool connections by state.",
		}, []string{"database", "state"}),
	}

	if logger != nil {
		logger.Debug("metrics registered", zap.String("namespace", namespace))
	}
	return c
}

// RecordHTTPRequest path 应为归一化后的路由
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration, size int64) {
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(d.Seconds())
	c.httpBytes.WithLabelValues(method, path).Observe(float64(size))
}

// RecordLLMRequest 可直接作为 llm.ResilientConfig.Observe
func (c *Collector) RecordLLMRequest(provider, model, status string, d time.Duration, usage llm.ChatUsage) {
	c.llmRequests.WithLabelValues(provider, model, status).Inc()
	c.llmLatency.WithLabelValues(provider, model).Observe(d.Seconds())
	c.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	c.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
}

func (c *Collector) ObserveInvocation(agent, model, status string, cacheHit bool, d time.Duration) {
	c.invocations.WithLabelValues(agent, model, status, strconv.FormatBool(cacheHit)).Inc()
	c.invokeLatency.WithLabelValues(agent).Observe(d.Seconds())
}

func (c *Collector) ObserveCache(agent string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(agent, result).Inc()
}

func (c *Collector) ObserveToolCall(agent, tool, status string, d time.Duration) {
	c.toolCalls.WithLabelValues(agent, tool, status).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

func (c *Collector) ObserveRepair(agent string) {
	c.repairs.WithLabelValues(agent).Inc()
}

// RecordMemoryOp err 为 nil 记为 ok
func (c *Collector) RecordMemoryOp(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.memoryOps.WithLabelValues(operation, status).Inc()
}

func (c *Collector) RecordRouteDecision(router, route, strategy string, fallback bool) {
	c.routeDecisions.WithLabelValues(router, route, strategy, strconv.FormatBool(fallback)).Inc()
}

// RecordDBConnections 签名与 database.StatsReporter 一致
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnections.WithLabelValues(database, "open").Set(float64(open))
	c.dbConnections.WithLabelValues(database, "idle").Set(float64(idle))
}

// statusClass 把状态码折叠为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
