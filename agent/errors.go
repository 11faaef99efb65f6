package agent

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/agentwrap/types"
)

var (
	ErrNoProvider     = errors.New("provider is required")
	ErrNoTemplate     = errors.New("template is required")
	ErrEmptyName      = errors.New("agent name is required")
	ErrRegistryClosed = errors.New("registry is closed")
)

// notFound 构造 404 类错误：未注册的 Agent 或路由器
func notFound(kind, name string) *types.Error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("%s %q not registered", kind, name)).
		WithHTTPStatus(http.StatusNotFound)
}

// invalidInput 构造输入无法转换为 Agent 输入类型的错误
func invalidInput(name string, err error) *types.Error {
	return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid input for agent %s", name)).
		WithHTTPStatus(http.StatusBadRequest).
		WithCause(err)
}

// statusOf 返回错误对应的指标标签
func statusOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	return "error"
}
