package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/agent/memory"
	"github.com/BaSui01/agentwrap/api"
	"github.com/BaSui01/agentwrap/types"
)

// =============================================================================
// 🧠 记忆 Handler
// =============================================================================

// OpRecorder 记录记忆操作结果（metrics.Collector 实现）
type OpRecorder interface {
	RecordMemoryOp(operation string, err error)
}

// MemoryHandler 按 (user_id, agent) 作用域读写记忆
type MemoryHandler struct {
	memory   *memory.Manager
	recorder OpRecorder
	logger   *zap.Logger
}

// NewMemoryHandler 创建记忆 handler，recorder 可为 nil
func NewMemoryHandler(mem *memory.Manager, recorder OpRecorder, logger *zap.Logger) *MemoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHandler{
		memory:   mem,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "memory_handler")),
	}
}

// HandleStore POST /v1/memory/{agent}/records
// @Summary Store a memory record
// @Tags memory
// @Accept json
// @Produce json
// @Param agent path string true "Agent scope"
// @Param request body api.MemoryStoreRequest true "Record"
// @Success 200 {object} Response{data=api.MemoryStoreResponse} "Stored key"
// @Failure 503 {object} Response "Storage failure"
// @Router /v1/memory/{agent}/records [post]
func (h *MemoryHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	var req api.MemoryStoreRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "content is required", h.logger)
		return
	}

	scope := h.scope(r, req.UserID)
	key, err := h.memory.Store(r.Context(), scope, req.Content, req.Metadata)
	h.record("store", err)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.MemoryStoreResponse{Key: key, Scope: scope})
}

// HandleGet GET /v1/memory/{agent}/records/{key}?user_id=
// @Summary Get a memory record
// @Tags memory
// @Produce json
// @Success 200 {object} Response{data=types.MemoryRecord} "Record"
// @Failure 404 {object} Response "Not found"
// @Router /v1/memory/{agent}/records/{key} [get]
func (h *MemoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r, r.URL.Query().Get("user_id"))
	key := r.PathValue("key")

	rec, ok, err := h.memory.Get(r.Context(), scope, key)
	h.record("get", err)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "memory record not found", h.logger)
		return
	}
	WriteSuccess(w, r, rec)
}

// HandleRecall POST /v1/memory/{agent}/recall
// @Summary Semantic recall
// @Tags memory
// @Accept json
// @Produce json
// @Param request body api.MemoryRecallRequest true "Query"
// @Success 200 {object} Response{data=api.MemoryRecallResponse} "Ranked records"
// @Router /v1/memory/{agent}/recall [post]
func (h *MemoryHandler) HandleRecall(w http.ResponseWriter, r *http.Request) {
	var req api.MemoryRecallRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "query is required", h.logger)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	scope := h.scope(r, req.UserID)
	records, err := h.memory.Recall(r.Context(), scope, req.Query, topK)
	h.record("recall", err)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.MemoryRecallResponse{Scope: scope, Records: records})
}

// HandleDelete DELETE /v1/memory/{agent}/records/{key}?user_id=
func (h *MemoryHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r, r.URL.Query().Get("user_id"))
	key := r.PathValue("key")

	found, err := h.memory.Delete(r.Context(), scope, key)
	h.record("delete", err)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	if !found {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "memory record not found", h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"key": key, "deleted": true})
}

// HandleClear DELETE /v1/memory/{agent}?user_id= 清空整个作用域
func (h *MemoryHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r, r.URL.Query().Get("user_id"))
	err := h.memory.Clear(r.Context(), scope)
	h.record("clear", err)
	if err != nil {
		HandleError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{"scope": scope, "cleared": true})
}

// HandleStats GET /v1/memory/stats
func (h *MemoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.memory.Stats(r.Context()))
}

func (h *MemoryHandler) scope(r *http.Request, user string) types.MemoryScope {
	return types.NewMemoryScope(userFrom(r, user), r.PathValue("agent"))
}

func (h *MemoryHandler) record(op string, err error) {
	if h.recorder != nil {
		h.recorder.RecordMemoryOp(op, err)
	}
}
