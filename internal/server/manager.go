package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentwrap/config"
)

// Config 监听与超时参数
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// ConfigFrom 由 server 配置段派生，零值字段取默认。
// Agent 调用可能跨越多轮模型请求，写超时因此完全跟随配置。
func ConfigFrom(sc config.ServerConfig) Config {
	c := Config{
		Addr:            ":" + strconv.Itoa(sc.HTTPPort),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
	for dst, src := range map[*time.Duration]time.Duration{
		&c.ReadTimeout:     sc.ReadTimeout,
		&c.WriteTimeout:    sc.WriteTimeout,
		&c.ShutdownTimeout: sc.ShutdownTimeout,
	} {
		if src > 0 {
			*dst = src
		}
	}
	return c
}

type phase int

const (
	phaseIdle phase = iota
	phaseServing
	phaseStopped
)

// Manager 持有一个 http.Server 的完整生命周期：idle → serving → stopped。
// stopped 之后不能再次启动。
type Manager struct {
	srv    *http.Server
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	phase phase
	ln    net.Listener
}

func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		cfg:    cfg,
		logger: logger.Named("http"),
	}
}

// listen 绑定端口并切换到 serving
func (m *Manager) listen() (net.Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseServing:
		return nil, errors.New("http server already serving")
	case phaseStopped:
		return nil, errors.New("http server stopped")
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln
	m.phase = phaseServing
	return ln, nil
}

// Run 绑定端口后阻塞服务，ctx 取消时在 ShutdownTimeout 内排空连接。
// Serve 异常退出时返回该错误。
func (m *Manager) Run(ctx context.Context) error {
	ln, err := m.listen()
	if err != nil {
		return err
	}
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return m.Stop(context.Background())
	})

	err = g.Wait()
	if err != nil {
		m.logger.Error("http server exited", zap.Error(err))
	}
	return err
}

// Stop 优雅关闭；未启动或已关闭时直接返回。
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.phase == phaseStopped {
		m.mu.Unlock()
		return nil
	}
	wasServing := m.phase == phaseServing
	m.phase = phaseStopped
	m.mu.Unlock()

	if !wasServing {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	m.logger.Info("http server stopped")
	return nil
}

// Addr 返回实际监听地址，未监听时返回配置值
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// Serving 是否处于服务状态
func (m *Manager) Serving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == phaseServing
}
