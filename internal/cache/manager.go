package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/config"
	"github.com/BaSui01/agentwrap/internal/tlsutil"
)

var ErrClosed = errors.New("cache manager is closed")

const dialProbeTimeout = 5 * time.Second

type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	TLS          bool          `yaml:"tls" json:"tls"`
	ProbeEvery   time.Duration `yaml:"probe_every" json:"probe_every"` // 0 不做后台探测
}

// ConfigFrom 未设置的连接池参数取默认值
func ConfigFrom(rc config.RedisConfig) Config {
	c := Config{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		TLS:          rc.TLS,
		ProbeEvery:   30 * time.Second,
	}
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		c.MinIdleConns = rc.MinIdleConns
	}
	return c
}

func (c Config) options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
	if c.TLS {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			host = c.Addr
		}
		opts.TLSConfig = tlsutil.ClientConfig(host)
	}
	return opts
}

// Manager 持有与 Prompt 缓存共享的 Redis 客户端
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 连接并 PING 一次，失败即返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), dialProbeTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{client: client, logger: logger.Named("redis")}
	probeCtx, stop := context.WithCancel(context.Background())
	m.cancel = stop
	if cfg.ProbeEvery > 0 {
		m.wg.Add(1)
		go m.probe(probeCtx, cfg.ProbeEvery)
	}

	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("pool_size", cfg.PoolSize), zap.Bool("tls", cfg.TLS))
	return m, nil
}

func (m *Manager) Client() redis.UniversalClient { return m.client }

func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close 可重复调用
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	return m.client.Close()
}

func (m *Manager) probe(ctx context.Context, every time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, dialProbeTimeout)
		s, err := m.Stats(pctx)
		cancel()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.logger.Error("redis probe failed", zap.Error(err))
		default:
			m.logger.Debug("redis probe",
				zap.Int64("keys", s.Keys),
				zap.Int64("used_memory", s.UsedMemory),
				zap.Int("clients", s.Connections),
			)
		}
	}
}

type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Keys        int64  `json:"keys"`
	UsedMemory  int64  `json:"used_memory"`
	Connections int    `json:"connections"`
}

// Stats 读取 INFO stats/memory/clients 与 DBSIZE
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if m.closed.Load() {
		return Stats{}, ErrClosed
	}
	info, err := m.client.Info(ctx, "stats", "memory", "clients").Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis info: %w", err)
	}
	s := parseInfo(info)
	if s.Keys, err = m.client.DBSize(ctx).Result(); err != nil {
		return Stats{}, fmt.Errorf("redis dbsize: %w", err)
	}
	return s, nil
}

func parseInfo(info string) Stats {
	var s Stats
	fields := map[string]func(string){
		"keyspace_hits":     func(v string) { s.Hits, _ = strconv.ParseUint(v, 10, 64) },
		"keyspace_misses":   func(v string) { s.Misses, _ = strconv.ParseUint(v, 10, 64) },
		"used_memory":       func(v string) { s.UsedMemory, _ = strconv.ParseInt(v, 10, 64) },
		"connected_clients": func(v string) { s.Connections, _ = strconv.Atoi(v) },
	}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if set, known := fields[k]; ok && known {
			set(v)
		}
	}
	return s
}
