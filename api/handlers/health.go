package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// 整体状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheck 一个依赖探测。Critical 为 false 的检查失败只会让服务降级。
type HealthCheck interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass / fail
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器，单个检查默认 5s 超时
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Evaluate 并发执行全部检查。
// 任一关键检查失败为 unhealthy，仅非关键检查失败为 degraded。
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	if len(checks) == 0 {
		return status
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.run(ctx, c)
		}()
	}
	wg.Wait()

	for i, c := range checks {
		r := results[i]
		status.Checks[c.Name()] = r
		if r.Status == "pass" {
			continue
		}
		if r.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthHandler) run(ctx context.Context, c HealthCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	latency := time.Since(start)

	r := CheckResult{Status: "pass", Critical: c.Critical(), Latency: latency.String()}
	if err != nil {
		r.Status = "fail"
		r.Message = err.Error()
		h.logger.Warn("health check failed",
			zap.String("check", c.Name()),
			zap.Bool("critical", r.Critical),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return r
}

// Failing 返回失败的检查名，按字母序
func (s HealthStatus) Failing() []string {
	var names []string
	for name, r := range s.Checks {
		if r.Status != "pass" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 执行全部检查；降级时仍返回 200
// @Summary 健康检查
// @Description 执行依赖检查（记忆、数据库、Redis、模型熔断器）。非关键依赖失败时返回 degraded。
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "healthy 或 degraded"
// @Failure 503 {object} HealthStatus "关键依赖失败"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleHealthz 存活探针，不访问任何依赖
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now()})
}

// HandleReady 就绪探针：只有全部检查通过才接收流量
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus
// @Failure 503 {object} HealthStatus
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	if status.Status != StatusHealthy {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} Response
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

type funcCheck struct {
	name     string
	critical bool
	check    func(ctx context.Context) error
}

func (c *funcCheck) Name() string                    { return c.name }
func (c *funcCheck) Critical() bool                  { return c.critical }
func (c *funcCheck) Check(ctx context.Context) error { return c.check(ctx) }

// NewCheck 关键检查（记忆、数据库）
func NewCheck(name string, check func(ctx context.Context) error) HealthCheck {
	return &funcCheck{name: name, critical: true, check: check}
}

// NewOptionalCheck 非关键检查（Redis 二级缓存、模型熔断器）
func NewOptionalCheck(name string, check func(ctx context.Context) error) HealthCheck {
	return &funcCheck{name: name, check: check}
}

// MemoryCheck 记忆管理器必须处于 READY
func MemoryCheck(mem interface{ State() memory.State }) HealthCheck {
	return NewCheck("memory", func(context.Context) error {
		if st := mem.State(); st != memory.StateReady {
			return fmt.Errorf("memory manager is %s", st)
		}
		return nil
	})
}
