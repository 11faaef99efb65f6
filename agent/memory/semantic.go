package memory

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/llm/embedding"
	"github.com/BaSui01/agentwrap/types"
)

// SemanticConfig 语义记忆配置
type SemanticConfig struct {
	// PersistDir 为空时仅保存在内存中
	PersistDir string `yaml:"persist_dir" json:"persist_dir"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// chromem 文档元数据：保留键与调用方键分属不同前缀，调用方元数据原样往返
const (
	docUser    = "chromem:user"
	docAgent   = "chromem:agent"
	docRole    = "chromem:role"
	docCreated = "chromem:created_at"

	docMetaPrefix = "meta:"
)

// SemanticStore 基于 chromem-go 的向量记忆，每个作用域一个集合。
type SemanticStore struct {
	db         *chromem.DB
	persistDir string
	embedder   embedding.Embedder
	logger     *zap.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewSemanticStore opens an in-memory or directory-backed vector store.
func NewSemanticStore(cfg SemanticConfig, embedder embedding.Embedder, logger *zap.Logger) (*SemanticStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("semantic memory requires an embedder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "memory_semantic"))

	db := chromem.NewDB()
	if cfg.PersistDir != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector store at %s: %w", cfg.PersistDir, err)
		}
		logger.Info("vector store opened", zap.String("dir", cfg.PersistDir))
	}

	return &SemanticStore{
		db:          db,
		persistDir:  cfg.PersistDir,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(scope types.MemoryScope) string {
	return "memory/" + scope.Namespace()
}

func (s *SemanticStore) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedding.EmbedOne(ctx, s.embedder, text)
	}
}

func (s *SemanticStore) collection(scope types.MemoryScope, create bool) (*chromem.Collection, error) {
	name := collectionName(scope)

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	if !create {
		col := s.db.GetCollection(name, s.embedFunc())
		if col != nil {
			s.collections[name] = col
		}
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, map[string]string{
		docUser:  scope.UserID,
		docAgent: scope.Agent,
	}, s.embedFunc())
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Add embeds (when needed) and indexes records; existing IDs are replaced.
func (s *SemanticStore) Add(ctx context.Context, records ...types.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	var missing []string
	for _, r := range records {
		if len(r.Embedding) == 0 {
			missing = append(missing, r.Content)
		}
	}
	var vecs [][]float32
	if len(missing) > 0 {
		var err error
		vecs, err = s.embedder.Embed(ctx, missing)
		if err != nil {
			return fmt.Errorf("embed memory: %w", err)
		}
		if len(vecs) != len(missing) {
			return embedding.ErrCountMismatch
		}
	}

	byScope := make(map[types.MemoryScope][]chromem.Document)
	next := 0
	for _, r := range records {
		vec := r.Embedding
		if len(vec) == 0 {
			vec = vecs[next]
			next++
		}
		byScope[r.Scope] = append(byScope[r.Scope], toDocument(r, vec))
	}
	for scope, docs := range byScope {
		col, err := s.collection(scope, true)
		if err != nil {
			return err
		}
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("index memory: %w", err)
		}
	}
	return nil
}

func toDocument(r types.MemoryRecord, vec []float32) chromem.Document {
	md := make(map[string]string, len(r.Metadata)+4)
	for k, v := range r.Metadata {
		md[docMetaPrefix+k] = v
	}
	md[docUser] = r.Scope.UserID
	md[docAgent] = r.Scope.Agent
	md[docRole] = string(r.Role)
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	md[docCreated] = created.Format(time.RFC3339Nano)
	return chromem.Document{ID: r.ID, Content: r.Content, Metadata: md, Embedding: vec}
}

func fromDocument(scope types.MemoryScope, id, content string, md map[string]string) types.MemoryRecord {
	r := types.MemoryRecord{
		ID:      id,
		Scope:   scope,
		Kind:    types.MemorySemantic,
		Content: content,
	}
	for k, v := range md {
		switch k {
		case docRole:
			r.Role = types.Role(v)
		case docCreated:
			r.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
		default:
			key, ok := strings.CutPrefix(k, docMetaPrefix)
			if !ok {
				continue
			}
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			r.Metadata[key] = v
		}
	}
	return r
}

// Recall returns up to topK records of scope ranked by cosine similarity,
// dropping those scoring below minScore. No matches is not an error.
func (s *SemanticStore) Recall(ctx context.Context, scope types.MemoryScope, query string, topK int, minScore float64) ([]types.MemoryRecord, error) {
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, nil
	}
	col, err := s.collection(scope, false)
	if err != nil || col == nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}
	vec, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := col.QueryEmbedding(ctx, vec, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}
	out := make([]types.MemoryRecord, 0, len(results))
	for _, res := range results {
		score := float64(res.Similarity)
		if score < minScore {
			continue
		}
		r := fromDocument(scope, res.ID, res.Content, res.Metadata)
		r.Score = score
		out = append(out, r)
	}
	return out, nil
}

// Get loads an indexed record by ID.
func (s *SemanticStore) Get(ctx context.Context, scope types.MemoryScope, id string) (*types.MemoryRecord, bool, error) {
	col, err := s.collection(scope, false)
	if err != nil || col == nil {
		return nil, false, err
	}
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem 对不存在的 ID 返回错误
		return nil, false, nil
	}
	r := fromDocument(scope, doc.ID, doc.Content, doc.Metadata)
	return &r, true, nil
}

// Delete removes a document from the scope's collection.
func (s *SemanticStore) Delete(ctx context.Context, scope types.MemoryScope, id string) (bool, error) {
	col, err := s.collection(scope, false)
	if err != nil || col == nil {
		return false, err
	}
	if _, err := col.GetByID(ctx, id); err != nil {
		return false, nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return false, fmt.Errorf("delete vector: %w", err)
	}
	return true, nil
}

// Clear drops the scope's collection.
func (s *SemanticStore) Clear(_ context.Context, scope types.MemoryScope) error {
	name := collectionName(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	if s.db.GetCollection(name, nil) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("drop collection %q: %w", name, err)
	}
	return nil
}

// Close releases collection handles. An in-memory store drops its vectors;
// a directory-backed one has already written every document to disk.
func (s *SemanticStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*chromem.Collection)
	if s.persistDir != "" {
		return nil
	}
	return s.db.Reset()
}

// Stats counts documents and non-empty collections.
func (s *SemanticStore) Stats() (records, scopes int) {
	for _, col := range s.db.ListCollections() {
		if n := col.Count(); n > 0 {
			records += n
			scopes++
		}
	}
	return records, scopes
}
