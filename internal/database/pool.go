package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentwrap/config"
)

// StatsReporter 每次后台探活成功后接收连接数，通常是指标采集器
type StatsReporter func(database string, open, idle int)

// Limits 连接池上限
type Limits struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// LimitsFrom 由数据库配置派生，零值取默认。
// sqlite 是单文件库，只允许一个连接。
func LimitsFrom(cfg config.DatabaseConfig) Limits {
	l := Limits{MaxOpen: 100, MaxIdle: 10, MaxLifetime: time.Hour, MaxIdleTime: 10 * time.Minute}
	if cfg.Driver == "sqlite" {
		l.MaxOpen, l.MaxIdle = 1, 1
		return l
	}
	if cfg.MaxOpenConns > 0 {
		l.MaxOpen = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		l.MaxIdle = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		l.MaxLifetime = cfg.ConnMaxLifetime
	}
	return l
}

func (l Limits) validate() error {
	switch {
	case l.MaxOpen <= 0:
		return errors.New("max open connections must be positive")
	case l.MaxIdle <= 0:
		return errors.New("max idle connections must be positive")
	case l.MaxIdle > l.MaxOpen:
		return fmt.Errorf("max idle connections (%d) exceed max open (%d)", l.MaxIdle, l.MaxOpen)
	}
	return nil
}

// Pool 持有 GORM 句柄与底层 sql.DB，后台定期探活并上报连接数。
type Pool struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	name     string
	interval time.Duration
	report   StatsReporter
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Pool)

// WithName 指标中的数据库名，默认为方言名
func WithName(name string) Option { return func(p *Pool) { p.name = name } }

func WithStatsReporter(r StatsReporter) Option { return func(p *Pool) { p.report = r } }

// WithHealthInterval 探活间隔，0 关闭后台探活。默认 30s。
func WithHealthInterval(d time.Duration) Option { return func(p *Pool) { p.interval = d } }

// Connect 打开数据库并按配置建池，失败时释放连接。
func Connect(cfg config.DatabaseConfig, logger *zap.Logger, opts ...Option) (*Pool, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	p, err := NewPool(db, LimitsFrom(cfg), logger, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return p, nil
}

// NewPool 在已打开的 GORM 句柄上应用连接上限并启动探活。
func NewPool(db *gorm.DB, limits Limits, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if db == nil {
		return nil, errors.New("database handle is nil")
	}
	if err := limits.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(limits.MaxOpen)
	sqlDB.SetMaxIdleConns(limits.MaxIdle)
	sqlDB.SetConnMaxLifetime(limits.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(limits.MaxIdleTime)

	p := &Pool{
		db:       db,
		sqlDB:    sqlDB,
		name:     db.Dialector.Name(),
		interval: 30 * time.Second,
		logger:   logger.Named("db"),
	}
	for _, opt := range opts {
		opt(p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if p.interval > 0 {
		p.wg.Add(1)
		go p.probe(ctx)
	}

	p.logger.Info("database pool ready",
		zap.String("database", p.name),
		zap.Int("max_open", limits.MaxOpen),
		zap.Int("max_idle", limits.MaxIdle))
	return p, nil
}

func (p *Pool) DB() *gorm.DB { return p.db }

func (p *Pool) Name() string { return p.name }

// Ping 探活，关闭后返回错误
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("database pool closed")
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats 连接池快照
type Stats struct {
	Database     string        `json:"database"`
	MaxOpen      int           `json:"max_open"`
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

func (p *Pool) Stats() Stats {
	s := p.sqlDB.Stats()
	return Stats{
		Database:     p.name,
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// Close 停止探活并关闭连接，可重复调用
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	return p.sqlDB.Close()
}

func (p *Pool) probe(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			p.logger.Warn("database ping failed", zap.Error(err))
			continue
		}
		if p.report != nil {
			s := p.Stats()
			p.report(p.name, s.Open, s.Idle)
		}
	}
}
