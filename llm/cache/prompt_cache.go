package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// DefaultKeyPrefix Redis 键前缀
const DefaultKeyPrefix = "agentwrap:prompt:"

// PromptCache Prompt 缓存接口。条目只新增、不覆盖。
type PromptCache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	SetIfAbsent(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error)
}

// Entry 缓存条目
type Entry struct {
	Agent       string          `json:"agent,omitempty"`
	Model       string          `json:"model,omitempty"`
	Output      json.RawMessage `json:"output"`
	Raw         string          `json:"raw,omitempty"`
	TokensSaved int             `json:"tokens_saved"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at,omitempty"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	LocalMaxSize int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"` // 本地缓存最大条目数
	LocalTTL     time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`           // 本地缓存 TTL 上限
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`           // 调用方未指定 TTL 时使用
	EnableLocal  bool          `yaml:"enable_local" env:"ENABLE_LOCAL"`
	EnableRedis  bool          `yaml:"enable_redis" env:"ENABLE_REDIS"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DefaultCacheConfig 默认配置
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		LocalMaxSize: 1000,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     1 * time.Hour,
		EnableLocal:  true,
		EnableRedis:  true,
		KeyPrefix:    DefaultKeyPrefix,
	}
}

// ============================================================
// LRUCache：仅本地
// ============================================================

// LRUCache 进程内 PromptCache
type LRUCache struct {
	lru *LRU[*Entry]
}

// NewLRUCache 创建本地 Prompt 缓存，ttl 为调用方未指定 TTL 时的默认值
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: NewLRU[*Entry](capacity, ttl)}
}

func (c *LRUCache) Get(_ context.Context, key string) (*Entry, error) {
	if e, ok := c.lru.Get(key); ok {
		return e, nil
	}
	return nil, ErrCacheMiss
}

func (c *LRUCache) SetIfAbsent(_ context.Context, key string, entry *Entry, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.lru.ttl
	}
	stamp(entry, ttl)
	return c.lru.SetIfAbsent(key, entry, ttl), nil
}

// Stats 缓存统计
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.lru.Len(), c.lru.capacity
}

// ============================================================
// MultiLevelCache：L1 本地 + L2 Redis
// ============================================================

// MultiLevelCache 多级缓存实现
type MultiLevelCache struct {
	local  *LRU[*Entry]
	redis  redis.UniversalClient
	config *CacheConfig
	logger *zap.Logger
}

// NewMultiLevelCache 创建多级缓存。rdb 为 nil 时退化为纯本地缓存。
func NewMultiLevelCache(rdb redis.UniversalClient, config *CacheConfig, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}

	var local *LRU[*Entry]
	if config.EnableLocal {
		local = NewLRU[*Entry](config.LocalMaxSize, config.LocalTTL)
	}

	return &MultiLevelCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "prompt_cache")),
	}
}

func (c *MultiLevelCache) redisEnabled() bool {
	return c.config.EnableRedis && c.redis != nil
}

// Get 获取缓存
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*Entry, error) {
	// 1. 查本地缓存
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	// 2. 查 Redis 缓存
	if !c.redisEnabled() {
		return nil, ErrCacheMiss
	}
	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("redis get error, treating as miss", zap.Error(err))
		}
		return nil, ErrCacheMiss
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("corrupt cache entry", zap.String("key", key), zap.Error(err))
		return nil, ErrCacheMiss
	}

	// 回填本地缓存
	if c.local != nil {
		c.local.SetIfAbsent(key, &entry, c.localTTL(time.Until(entry.ExpiresAt)))
	}
	c.logger.Debug("redis cache hit", zap.String("key", key))
	return &entry, nil
}

// SetIfAbsent 插入缓存（已存在则不覆盖）。
// Redis 可用时以 SETNX 结果为准；Redis 出错时降级为只写本地。
func (c *MultiLevelCache) SetIfAbsent(ctx context.Context, key string, entry *Entry, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.config.RedisTTL
	}
	stamp(entry, ttl)

	inserted := false
	if c.local != nil {
		inserted = c.local.SetIfAbsent(key, entry, c.localTTL(ttl))
	}

	if c.redisEnabled() {
		data, err := json.Marshal(entry)
		if err != nil {
			return inserted, err
		}
		ok, err := c.redis.SetNX(ctx, c.redisKey(key), data, ttl).Result()
		if err != nil {
			c.logger.Warn("redis setnx error, kept local only", zap.Error(err))
			return inserted, nil
		}
		inserted = ok
	}

	c.logger.Debug("cache set", zap.String("key", key), zap.Bool("inserted", inserted))
	return inserted, nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.redisEnabled() {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) redisKey(key string) string {
	return c.config.KeyPrefix + key
}

// localTTL 本地 TTL 不超过配置上限
func (c *MultiLevelCache) localTTL(ttl time.Duration) time.Duration {
	if c.config.LocalTTL > 0 && (ttl <= 0 || ttl > c.config.LocalTTL) {
		return c.config.LocalTTL
	}
	return ttl
}

func stamp(entry *Entry, ttl time.Duration) {
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
}
