package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/api/handlers"
	"github.com/BaSui01/agentwrap/internal/server"
)

// publicPaths 不需要 JWT 的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/version", "/metrics"}

// =============================================================================
// 🖥️ HTTP 服务
// =============================================================================

// Handler 注册所有路由并套上中间件链。ctx 结束时限流器的清理协程退出。
func (a *App) Handler(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(a.logger)
	for _, c := range a.checks {
		health.RegisterCheck(c)
	}
	agents := handlers.NewAgentHandler(a.registry, a.logger)
	routes := handlers.NewRouteHandler(a.registry, a.collector, a.logger)
	mem := handlers.NewMemoryHandler(a.memory, a.collector, a.logger)

	mux := http.NewServeMux()

	// 健康检查与元信息
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metricsRegistry, promhttp.HandlerOpts{
		Registry: a.metricsRegistry,
	}))

	// Agent
	mux.HandleFunc("GET /v1/agents", agents.HandleListAgents)
	mux.HandleFunc("GET /v1/agents/{name}", agents.HandleGetAgent)
	mux.HandleFunc("POST /v1/agents/{name}/invoke", agents.HandleInvokeAgent)

	// 路由
	mux.HandleFunc("GET /v1/routers", routes.HandleListRouters)
	mux.HandleFunc("POST /v1/route", routes.HandleRoute)
	mux.HandleFunc("POST /v1/route/invoke", routes.HandleRouteInvoke)

	// 记忆
	mux.HandleFunc("GET /v1/memory/stats", mem.HandleStats)
	mux.HandleFunc("POST /v1/memory/{agent}/records", mem.HandleStore)
	mux.HandleFunc("GET /v1/memory/{agent}/records/{key}", mem.HandleGet)
	mux.HandleFunc("DELETE /v1/memory/{agent}/records/{key}", mem.HandleDelete)
	mux.HandleFunc("DELETE /v1/memory/{agent}", mem.HandleClear)
	mux.HandleFunc("POST /v1/memory/{agent}/recall", mem.HandleRecall)

	sc := a.cfg.Server
	chain := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		Observe(a.logger, a.collector),
		CORS(sc.CORSAllowedOrigins),
	}
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, a.logger))
	}
	if sc.JWT.Secret != "" {
		chain = append(chain, JWTAuth(sc.JWT, publicPaths, a.logger))
	} else {
		a.logger.Warn("JWT secret not configured, API is unauthenticated")
	}
	return Chain(mux, chain...)
}

// Serve 启动 HTTP 服务，阻塞到 ctx 取消或监听失败，然后优雅关闭
func (a *App) Serve(ctx context.Context) error {
	mgr := server.NewManager(a.Handler(ctx), server.ConfigFrom(a.cfg.Server), a.logger)
	a.logger.Info("starting HTTP server", zap.Int("port", a.cfg.Server.HTTPPort))
	return mgr.Run(ctx)
}
