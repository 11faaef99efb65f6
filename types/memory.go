package types

import (
	"strings"
	"time"
)

// MemoryKind selects the backing strategy of a memory record.
type MemoryKind string

const (
	// MemoryWorking is the bounded, process-lifetime conversation buffer.
	MemoryWorking MemoryKind = "working"
	// MemoryPersistent is the durable store that survives restarts.
	MemoryPersistent MemoryKind = "persistent"
	// MemorySemantic is the embedding-indexed store used for recall.
	MemorySemantic MemoryKind = "semantic"
)

// MemoryScope is the isolation key of every memory record. Two scopes are
// equal only if both fields are equal; there is no string concatenation
// involved in the comparison.
type MemoryScope struct {
	UserID string `json:"user_id"`
	Agent  string `json:"agent"`
}

// DefaultUser is used when a caller does not identify a user.
const DefaultUser = "default"

// NewMemoryScope builds a scope, substituting DefaultUser for an empty user.
func NewMemoryScope(userID, agent string) MemoryScope {
	if userID == "" {
		userID = DefaultUser
	}
	return MemoryScope{UserID: userID, Agent: agent}
}

var namespaceEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// Namespace renders the scope as a single collision-free token for backends
// that need a string name (collection names, table keys). Separators inside
// the fields are escaped, so ("a/b", "c") and ("a", "b/c") stay distinct.
func (s MemoryScope) Namespace() string {
	return namespaceEscaper.Replace(s.UserID) + "/" + namespaceEscaper.Replace(s.Agent)
}

// IsZero reports whether the scope has no agent.
func (s MemoryScope) IsZero() bool {
	return s.Agent == ""
}

// MemoryRecord represents a stored conversation turn or fact.
type MemoryRecord struct {
	ID        string            `json:"id"`
	Scope     MemoryScope       `json:"scope"`
	Kind      MemoryKind        `json:"kind"`
	Role      Role              `json:"role,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	Score     float64           `json:"score,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
}

// MemoryQuery represents a semantic recall request.
type MemoryQuery struct {
	Scope    MemoryScope `json:"scope"`
	Query    string      `json:"query"`
	TopK     int         `json:"top_k,omitempty"`
	MinScore float64     `json:"min_score,omitempty"`
}

// MemoryStats provides aggregate counts across backends.
type MemoryStats struct {
	State        string         `json:"state"`
	TotalRecords int            `json:"total_records"`
	ByKind       map[string]int `json:"by_kind"`
	Scopes       int            `json:"scopes"`
}
