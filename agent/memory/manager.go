package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// State 记忆管理器生命周期状态
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config 记忆管理器配置
type Config struct {
	// MaxMessages 每个作用域的工作记忆上限
	MaxMessages int `yaml:"max_messages" json:"max_messages"`
	// BestEffort 时工作记忆失败降级为告警
	BestEffort bool `yaml:"best_effort" json:"best_effort"`
	// OpTimeout 单次后端操作超时，0 表示不限
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`
	// PersistTurns 把会话轮次镜像到持久存储，重启后可恢复窗口
	PersistTurns bool `yaml:"persist_turns" json:"persist_turns"`
	// IndexTurns 把会话轮次写入语义索引，供 Recall 检索
	IndexTurns bool `yaml:"index_turns" json:"index_turns"`
	// RecallMinScore 低于该相似度的召回结果被丢弃
	RecallMinScore float64 `yaml:"recall_min_score" json:"recall_min_score"`
	// AutoMigrate 在 Open 时对持久表执行 gorm AutoMigrate
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessages: DefaultMaxMessages,
		OpTimeout:   5 * time.Second,
		AutoMigrate: true,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPersistent attaches the durable store.
func WithPersistent(s *PersistentStore) Option {
	return func(m *Manager) { m.persistent = s }
}

// WithSemantic attaches the vector store.
func WithSemantic(s *SemanticStore) Option {
	return func(m *Manager) { m.semantic = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager 记忆管理器：一个实例管理工作 / 持久 / 语义三类后端。
//
// 状态机 UNINITIALIZED → READY → CLOSED；READY 之外的操作返回 StorageError。
// 进行中的操作持有读锁，Close 等待它们结束。
type Manager struct {
	cfg        Config
	working    *WorkingStore
	persistent *PersistentStore
	semantic   *SemanticStore
	logger     *zap.Logger

	state atomic.Int32
	life  sync.RWMutex
}

// NewManager creates a manager in the UNINITIALIZED state.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.working = NewWorkingStore(cfg.MaxMessages)
	m.cfg.MaxMessages = m.working.MaxMessages()
	m.logger = m.logger.With(zap.String("component", "memory_manager"))
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// HasSemantic reports whether a vector store is attached.
func (m *Manager) HasSemantic() bool { return m.semantic != nil }

// Open moves the manager to READY. Opening a READY manager is a no-op;
// opening a CLOSED one fails.
func (m *Manager) Open(ctx context.Context) error {
	m.life.Lock()
	defer m.life.Unlock()

	switch m.State() {
	case StateReady:
		return nil
	case StateClosed:
		return types.NewStorageError("open", ErrClosed)
	}

	if m.persistent != nil {
		opCtx, cancel := m.opContext(ctx)
		defer cancel()
		if m.cfg.AutoMigrate {
			if err := m.persistent.AutoMigrate(opCtx); err != nil {
				return types.NewStorageError("open", err)
			}
		}
		if err := m.persistent.Ping(opCtx); err != nil {
			return types.NewStorageError("open", err)
		}
	}

	m.state.Store(int32(StateReady))
	m.logger.Info("memory manager ready",
		zap.Int("max_messages", m.cfg.MaxMessages),
		zap.Bool("persistent", m.persistent != nil),
		zap.Bool("semantic", m.semantic != nil),
		zap.Bool("best_effort", m.cfg.BestEffort))
	return nil
}

// Close moves the manager to CLOSED and releases the working windows and
// the semantic store. The persistent store's *gorm.DB belongs to the caller
// and stays open. Close is idempotent.
func (m *Manager) Close() error {
	m.life.Lock()
	defer m.life.Unlock()
	if m.State() == StateClosed {
		return nil
	}
	m.state.Store(int32(StateClosed))

	m.working.Reset()
	var err error
	if m.semantic != nil {
		if err = m.semantic.Close(); err != nil {
			err = types.NewStorageError("close", err)
		}
	}
	m.logger.Info("memory manager closed")
	return err
}

// acquire 检查状态并持有读锁；调用方必须 release
func (m *Manager) acquire(op string, scope *types.MemoryScope) (func(), error) {
	m.life.RLock()
	switch m.State() {
	case StateUninitialized:
		m.life.RUnlock()
		return nil, types.NewStorageError(op, ErrNotOpen)
	case StateClosed:
		m.life.RUnlock()
		return nil, types.NewStorageError(op, ErrClosed)
	}
	if scope != nil && scope.IsZero() {
		m.life.RUnlock()
		return nil, types.NewStorageError(op, ErrInvalidScope)
	}
	return m.life.RUnlock, nil
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.OpTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.OpTimeout)
	}
	return context.WithCancel(ctx)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewStorageError(op, err)
}

// ContentKey is the stable record ID derived from content.
func ContentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

// Store writes a fact and returns its ID: the caller key in
// metadata["key"] or the content hash. Without a durable backend the fact
// is kept in the scope's working window as a system turn.
func (m *Manager) Store(ctx context.Context, scope types.MemoryScope, content string, metadata map[string]string) (string, error) {
	release, err := m.acquire("store", &scope)
	if err != nil {
		return "", err
	}
	defer release()

	if strings.TrimSpace(content) == "" {
		return "", types.NewStorageError("store", errors.New("content is empty"))
	}
	id := metadata[MetaKey]
	if id == "" {
		id = ContentKey(content)
	}
	if m.persistent == nil && m.semantic == nil {
		m.working.Put(scope, Turn{
			ID:        id,
			Role:      types.RoleSystem,
			Content:   content,
			Timestamp: time.Now().UTC(),
			Metadata:  maps.Clone(metadata),
		})
		m.logger.Debug("memory stored in working window", zap.String("scope", scope.Namespace()), zap.String("id", id))
		return id, nil
	}
	rec := types.MemoryRecord{
		ID:        id,
		Scope:     scope,
		Kind:      types.MemoryPersistent,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if m.persistent != nil {
		if err := m.persistent.Put(ctx, rec); err != nil {
			return "", storageErr("store", err)
		}
	}
	if m.semantic != nil {
		if err := m.semantic.Add(ctx, rec); err != nil {
			return "", storageErr("store", err)
		}
	}
	m.logger.Debug("memory stored", zap.String("scope", scope.Namespace()), zap.String("id", id))
	return id, nil
}

// AppendTurns appends turns to the working window of scope as one unit,
// mirroring them to the persistent store first when configured so that a
// failure leaves every backend untouched.
func (m *Manager) AppendTurns(ctx context.Context, scope types.MemoryScope, turns ...Turn) error {
	release, err := m.acquire("append", &scope)
	if err != nil {
		return err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return storageErr("append", err)
	}
	if len(turns) == 0 {
		return nil
	}

	normalized := make([]Turn, len(turns))
	for i, t := range turns {
		t = t.normalize()
		if err := t.validate(); err != nil {
			if m.cfg.BestEffort {
				m.logger.Warn("working memory append skipped", zap.String("scope", scope.Namespace()), zap.Error(err))
				return nil
			}
			return storageErr("append", err)
		}
		normalized[i] = t
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if m.persistent != nil && m.cfg.PersistTurns {
		if err := m.hydrate(ctx, scope); err != nil {
			m.logger.Warn("working memory restore failed", zap.String("scope", scope.Namespace()), zap.Error(err))
		}
		records := make([]types.MemoryRecord, len(normalized))
		for i, t := range normalized {
			records[i] = t.record(scope)
		}
		if err := m.persistent.Put(ctx, records...); err != nil {
			return storageErr("append", err)
		}
	}

	if err := m.working.Append(scope, normalized...); err != nil {
		if m.cfg.BestEffort {
			m.logger.Warn("working memory append failed", zap.String("scope", scope.Namespace()), zap.Error(err))
			return nil
		}
		return storageErr("append", err)
	}

	if m.semantic != nil && m.cfg.IndexTurns {
		records := make([]types.MemoryRecord, len(normalized))
		for i, t := range normalized {
			records[i] = t.record(scope)
		}
		if err := m.semantic.Add(ctx, records...); err != nil {
			// 语义索引可由持久记录重建，失败只告警
			m.logger.Warn("turn indexing failed", zap.String("scope", scope.Namespace()), zap.Error(err))
		}
	}
	return nil
}

// hydrate 工作窗口为空时从持久存储恢复最近的轮次
func (m *Manager) hydrate(ctx context.Context, scope types.MemoryScope) error {
	if m.persistent == nil || !m.cfg.PersistTurns || m.working.Len(scope) > 0 {
		return nil
	}
	records, err := m.persistent.List(ctx, scope, types.MemoryWorking, m.cfg.MaxMessages)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	turns := make([]Turn, len(records))
	for i, r := range records {
		turns[i] = turnFromRecord(r)
	}
	if m.working.Seed(scope, turns) {
		m.logger.Debug("working memory restored", zap.String("scope", scope.Namespace()), zap.Int("turns", len(turns)))
	}
	return nil
}

// Recent returns up to n newest turns of scope, oldest first.
func (m *Manager) Recent(ctx context.Context, scope types.MemoryScope, n int) ([]Turn, error) {
	release, err := m.acquire("recent", &scope)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := m.opContext(ctx)
	defer cancel()
	if err := m.hydrate(ctx, scope); err != nil {
		if !m.cfg.BestEffort {
			return nil, storageErr("recent", err)
		}
		m.logger.Warn("working memory restore failed", zap.String("scope", scope.Namespace()), zap.Error(err))
	}
	return m.working.Recent(scope, n), nil
}

// Recall returns up to topK semantically similar records. Nothing matching,
// or no semantic backend, yields an empty result.
func (m *Manager) Recall(ctx context.Context, scope types.MemoryScope, query string, topK int) ([]types.MemoryRecord, error) {
	release, err := m.acquire("recall", &scope)
	if err != nil {
		return nil, err
	}
	defer release()

	if m.semantic == nil {
		return []types.MemoryRecord{}, nil
	}
	ctx, cancel := m.opContext(ctx)
	defer cancel()

	records, err := m.semantic.Recall(ctx, scope, query, topK, m.cfg.RecallMinScore)
	if err != nil {
		return nil, storageErr("recall", err)
	}
	if records == nil {
		records = []types.MemoryRecord{}
	}
	return records, nil
}

// Get looks key up exactly: working window, then persistent, then semantic.
func (m *Manager) Get(ctx context.Context, scope types.MemoryScope, key string) (*types.MemoryRecord, bool, error) {
	release, err := m.acquire("get", &scope)
	if err != nil {
		return nil, false, err
	}
	defer release()

	if t, ok := m.working.Get(scope, key); ok {
		r := t.record(scope)
		return &r, true, nil
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if m.persistent != nil {
		r, ok, err := m.persistent.Get(ctx, scope, key)
		if err != nil {
			return nil, false, storageErr("get", err)
		}
		if ok {
			return r, true, nil
		}
	}
	if m.semantic != nil {
		r, ok, err := m.semantic.Get(ctx, scope, key)
		if err != nil {
			return nil, false, storageErr("get", err)
		}
		return r, ok, nil
	}
	return nil, false, nil
}

// Delete removes key from every backend; persistent rows are soft-deleted.
func (m *Manager) Delete(ctx context.Context, scope types.MemoryScope, key string) (bool, error) {
	release, err := m.acquire("delete", &scope)
	if err != nil {
		return false, err
	}
	defer release()

	found := m.working.Delete(scope, key)

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if m.persistent != nil {
		ok, err := m.persistent.Delete(ctx, scope, key)
		if err != nil {
			return found, storageErr("delete", err)
		}
		found = found || ok
	}
	if m.semantic != nil {
		ok, err := m.semantic.Delete(ctx, scope, key)
		if err != nil {
			return found, storageErr("delete", err)
		}
		found = found || ok
	}
	return found, nil
}

// Clear drops every record of scope in every backend.
func (m *Manager) Clear(ctx context.Context, scope types.MemoryScope) error {
	release, err := m.acquire("clear", &scope)
	if err != nil {
		return err
	}
	defer release()

	m.working.Clear(scope)

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if m.persistent != nil {
		if _, err := m.persistent.Clear(ctx, scope); err != nil {
			return storageErr("clear", err)
		}
	}
	if m.semantic != nil {
		if err := m.semantic.Clear(ctx, scope); err != nil {
			return storageErr("clear", err)
		}
	}
	m.logger.Info("memory scope cleared", zap.String("scope", scope.Namespace()))
	return nil
}

// Stats aggregates counts across backends. It never fails: backend errors
// are logged and counted as zero.
func (m *Manager) Stats(ctx context.Context) types.MemoryStats {
	stats := types.MemoryStats{
		State:  m.State().String(),
		ByKind: map[string]int{},
	}

	records, scopes := m.working.Stats()
	stats.ByKind[string(types.MemoryWorking)] = records
	stats.Scopes = scopes

	if m.persistent != nil && m.State() == StateReady {
		ctx, cancel := m.opContext(ctx)
		n, s, err := m.persistent.Stats(ctx)
		cancel()
		if err != nil {
			m.logger.Warn("persistent stats unavailable", zap.Error(err))
		} else {
			stats.ByKind[string(types.MemoryPersistent)] = int(n)
			stats.Scopes = max(stats.Scopes, int(s))
		}
	}
	if m.semantic != nil {
		n, s := m.semantic.Stats()
		stats.ByKind[string(types.MemorySemantic)] = n
		stats.Scopes = max(stats.Scopes, s)
	}

	for _, n := range stats.ByKind {
		stats.TotalRecords += n
	}
	return stats
}
