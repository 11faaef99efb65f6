package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// Response 所有 /v1 接口的统一包装
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误详情。解析失败时 Raw 携带模型原始输出。
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// codeStatus 错误码到 HTTP 状态码，未列出的为 500
var codeStatus = map[types.ErrorCode]int{
	types.ErrTemplate:           http.StatusBadRequest,
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrResponseParse:      http.StatusUnprocessableEntity,
	types.ErrToolLoopExceeded:   http.StatusLoopDetected,
	types.ErrModelInvocation:    http.StatusBadGateway,
	types.ErrUpstreamError:      http.StatusBadGateway,
	types.ErrStorage:            http.StatusServiceUnavailable,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
	types.ErrNoRouteMatched:     http.StatusNotFound,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrToolNotFound:       http.StatusNotFound,
	types.ErrUnauthorized:       http.StatusUnauthorized,
	types.ErrRateLimited:        http.StatusTooManyRequests,
	types.ErrTimeout:            http.StatusGatewayTimeout,
}

// StatusFor 错误码对应的 HTTP 状态码
func StatusFor(code types.ErrorCode) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteJSON 写出任意 JSON。头写出后编码失败无法补救，忽略错误。
func WriteJSON(w http.ResponseWriter, status int, v any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func envelope(r *http.Request) Response {
	return Response{Timestamp: time.Now(), RequestID: requestID(r)}
}

func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	resp := envelope(r)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, http.StatusOK, resp)
}

// WriteError 写出 types.Error；5xx 记 Error 级别，其余记 Warn。
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = StatusFor(err.Code)
	}

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(err.Code)),
			zap.Int("status", status),
			zap.String("request_id", requestID(r)),
		}
		if err.Cause != nil {
			fields = append(fields, zap.Error(err.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error(err.Message, fields...)
		} else {
			logger.Warn(err.Message, fields...)
		}
	}

	resp := envelope(r)
	resp.Error = &ErrorInfo{Code: string(err.Code), Message: err.Message, Retryable: err.Retryable, Raw: err.Raw}
	WriteJSON(w, status, resp)
}

func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// HandleError 写出任意错误，链上没有 types.Error 时按内部错误处理
func HandleError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	typed, ok := types.AsError(err)
	if !ok {
		typed = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	WriteError(w, r, typed, logger)
}

// ResponseWriter 记录状态码与写出字节数，供日志、指标与 tracing 使用
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode, rw.Written = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Unwrap 供 http.ResponseController 取底层 writer
func (rw *ResponseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
