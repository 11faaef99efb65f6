package embedding

import "errors"

var (
	// ErrEmptyResult 服务端返回的向量数量为 0
	ErrEmptyResult = errors.New("embedding: no vectors returned")
	// ErrCountMismatch 返回的向量数量与输入不一致
	ErrCountMismatch = errors.New("embedding: vector count does not match input count")
)
