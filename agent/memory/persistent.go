package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentwrap/types"
)

// TableName is the persistent memory table.
const TableName = "memory_records"

// RecordModel memory_records 表的 gorm 模型，主键 (scope_key, id)。
type RecordModel struct {
	ScopeKey  string         `gorm:"primaryKey;size:255"`
	ID        string         `gorm:"primaryKey;size:128"`
	UserID    string         `gorm:"size:128;not null;index:idx_memory_user_agent"`
	Agent     string         `gorm:"size:128;not null;index:idx_memory_user_agent"`
	Kind      string         `gorm:"size:32;not null;index"`
	Role      string         `gorm:"size:32"`
	Content   string         `gorm:"type:text;not null"`
	Metadata  string         `gorm:"type:text"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName implements gorm's tabler.
func (RecordModel) TableName() string { return TableName }

// PersistentStore 基于 gorm 的持久记忆，支持 sqlite / postgres / mysql。
type PersistentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPersistentStore wraps an open gorm handle.
func NewPersistentStore(db *gorm.DB, logger *zap.Logger) *PersistentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistentStore{db: db, logger: logger.With(zap.String("component", "memory_persistent"))}
}

// AutoMigrate creates or updates the table through gorm. Server databases
// normally use internal/migration instead.
func (s *PersistentStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&RecordModel{}); err != nil {
		return fmt.Errorf("auto migrate %s: %w", TableName, err)
	}
	return nil
}

// Ping checks the underlying connection.
func (s *PersistentStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func toModel(r types.MemoryRecord) (RecordModel, error) {
	var md string
	if len(r.Metadata) > 0 {
		data, err := json.Marshal(r.Metadata)
		if err != nil {
			return RecordModel{}, fmt.Errorf("encode metadata: %w", err)
		}
		md = string(data)
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return RecordModel{
		ScopeKey:  r.Scope.Namespace(),
		ID:        r.ID,
		UserID:    r.Scope.UserID,
		Agent:     r.Scope.Agent,
		Kind:      string(r.Kind),
		Role:      string(r.Role),
		Content:   r.Content,
		Metadata:  md,
		CreatedAt: created,
	}, nil
}

func (m RecordModel) record() types.MemoryRecord {
	r := types.MemoryRecord{
		ID:        m.ID,
		Scope:     types.MemoryScope{UserID: m.UserID, Agent: m.Agent},
		Kind:      types.MemoryKind(m.Kind),
		Role:      types.Role(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &r.Metadata)
	}
	return r
}

var upsertColumns = []string{"kind", "role", "content", "metadata", "updated_at", "deleted_at"}

// Put upserts records by (scope, id) in one transaction. Re-putting a
// soft-deleted record restores it.
func (s *PersistentStore) Put(ctx context.Context, records ...types.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]RecordModel, 0, len(records))
	for _, r := range records {
		m, err := toModel(r)
		if err != nil {
			return err
		}
		models = append(models, m)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope_key"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(&models).Error
	})
	if err != nil {
		return fmt.Errorf("upsert memory records: %w", err)
	}
	return nil
}

// Get loads a live record; found is false when it is absent or deleted.
func (s *PersistentStore) Get(ctx context.Context, scope types.MemoryScope, id string) (*types.MemoryRecord, bool, error) {
	var m RecordModel
	err := s.db.WithContext(ctx).
		Where("scope_key = ? AND id = ?", scope.Namespace(), id).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get memory record: %w", err)
	}
	r := m.record()
	return &r, true, nil
}

// List returns up to limit newest records of kind, oldest first.
// An empty kind lists every kind.
func (s *PersistentStore) List(ctx context.Context, scope types.MemoryScope, kind types.MemoryKind, limit int) ([]types.MemoryRecord, error) {
	q := s.db.WithContext(ctx).Where("scope_key = ?", scope.Namespace())
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []RecordModel
	if err := q.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	out := make([]types.MemoryRecord, len(models))
	for i := range models {
		out[len(models)-1-i] = models[i].record()
	}
	return out, nil
}

// Delete soft-deletes a record.
func (s *PersistentStore) Delete(ctx context.Context, scope types.MemoryScope, id string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("scope_key = ? AND id = ?", scope.Namespace(), id).
		Delete(&RecordModel{})
	if res.Error != nil {
		return false, fmt.Errorf("delete memory record: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Clear soft-deletes every record of scope.
func (s *PersistentStore) Clear(ctx context.Context, scope types.MemoryScope) (int64, error) {
	res := s.db.WithContext(ctx).Where("scope_key = ?", scope.Namespace()).Delete(&RecordModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear memory scope: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats counts live records and distinct scopes.
func (s *PersistentStore) Stats(ctx context.Context) (records, scopes int64, err error) {
	db := s.db.WithContext(ctx).Model(&RecordModel{})
	if err = db.Count(&records).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&RecordModel{}).Distinct("scope_key").Count(&scopes).Error; err != nil {
		return 0, 0, err
	}
	return records, scopes, nil
}
