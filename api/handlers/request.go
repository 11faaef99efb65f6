package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

const maxBodyBytes = 1 << 20

// DecodeJSONBody 严格解码请求体（拒绝未知字段，上限 1 MiB）。
// 失败时已写出错误响应，调用方直接返回即可。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			e := types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
				WithHTTPStatus(http.StatusUnsupportedMediaType)
			WriteError(w, r, e, logger)
			return e
		}
	}

	var e *types.Error
	if r.Body == nil || r.Body == http.NoBody {
		e = types.NewError(types.ErrInvalidRequest, "request body is empty")
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			e = types.NewError(types.ErrInvalidRequest, bodyErrorMessage(err)).WithCause(err)
		}
	}
	if e != nil {
		WriteError(w, r, e.WithHTTPStatus(http.StatusBadRequest), logger)
		return e
	}
	return nil
}

func bodyErrorMessage(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.As(err, &tooLarge):
		return "request body too large"
	default:
		return "invalid JSON body"
	}
}

// userFrom 请求体里的 user_id 优先，其次是认证中间件注入的用户
func userFrom(r *http.Request, bodyUser string) string {
	if bodyUser != "" {
		return bodyUser
	}
	u, _ := types.UserID(r.Context())
	return u
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := types.RequestID(r.Context())
	return id
}
