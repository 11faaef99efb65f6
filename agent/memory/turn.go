package memory

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/BaSui01/agentwrap/types"
)

// Metadata keys used on turns and records.
const (
	MetaKey    = "key"
	MetaAgent  = "source_agent"
	MetaTags   = "tags"
	MetaRoute  = "route"
	MetaSource = "source"
)

// Turn 一条会话轮次，创建后不可变。
type Turn struct {
	ID        string            `json:"id"`
	Role      types.Role        `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewTurn creates a turn with a sortable ULID and the current time.
func NewTurn(role types.Role, content string) Turn {
	return Turn{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata returns a copy of t carrying an extra metadata entry.
func (t Turn) WithMetadata(key, value string) Turn {
	md := make(map[string]string, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		md[k] = v
	}
	md[key] = value
	t.Metadata = md
	return t
}

// Message converts the turn to a chat message.
func (t Turn) Message() types.Message {
	return types.Message{Role: t.Role, Content: t.Content, Timestamp: t.Timestamp}
}

func (t Turn) validate() error {
	switch t.Role {
	case types.RoleUser, types.RoleAssistant, types.RoleSystem:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidTurn, t.Role)
	}
	if t.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidTurn)
	}
	return nil
}

// normalize fills the ID and timestamp of hand-built turns.
func (t Turn) normalize() Turn {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	return t
}

func (t Turn) record(scope types.MemoryScope) types.MemoryRecord {
	return types.MemoryRecord{
		ID:        t.ID,
		Scope:     scope,
		Kind:      types.MemoryWorking,
		Role:      t.Role,
		Content:   t.Content,
		Metadata:  t.Metadata,
		CreatedAt: t.Timestamp,
	}
}

func turnFromRecord(r types.MemoryRecord) Turn {
	return Turn{ID: r.ID, Role: r.Role, Content: r.Content, Timestamp: r.CreatedAt, Metadata: r.Metadata}
}

// Messages converts turns to chat messages in order.
func Messages(turns []Turn) []types.Message {
	out := make([]types.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Message())
	}
	return out
}
