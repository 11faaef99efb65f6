package providers

import (
	"net/http"
	"strings"

	"github.com/BaSui01/agentwrap/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	e := &types.Error{Message: msg, HTTPStatus: status, Provider: provider}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Code = types.ErrUnauthorized
	case http.StatusNotFound:
		e.Code = types.ErrNotFound
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
		e.Retryable = true
		// 额度用尽不会因重试恢复
		if isQuotaMessage(msg) {
			e.Retryable = false
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Code = types.ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = types.ErrTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		e.Code = types.ErrServiceUnavailable
		e.Retryable = true
	default:
		e.Code = types.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

func isQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient") || strings.Contains(lower, "credit")
}

// ChooseModel 按优先级选择模型：请求 → 配置 → 默认
func ChooseModel(reqModel, configModel, defaultModel string) string {
	if reqModel != "" {
		return reqModel
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}
