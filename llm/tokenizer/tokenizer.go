package tokenizer

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []types.Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// ForModel 为模型选择分词器：已知的 OpenAI 系列用 tiktoken，
// 其余（或 tiktoken 编码数据加载失败时）回退到估算器。
func ForModel(model string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	encoding, window, ok := encodingFor(model)
	if !ok {
		return NewEstimatorTokenizer(model, 0)
	}
	return &fallbackTokenizer{
		primary:  tiktokenCounter{encoding: encoding, window: window},
		fallback: NewEstimatorTokenizer(model, window),
		logger:   logger.With(zap.String("component", "tokenizer"), zap.String("model", model)),
	}
}

// fallbackTokenizer primary 出错时改用 fallback
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err != nil {
		f.logger.Debug("tiktoken unavailable, using estimator", zap.Error(err))
		return f.fallback.CountTokens(text)
	}
	return n, nil
}

func (f *fallbackTokenizer) CountMessages(messages []types.Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err != nil {
		f.logger.Debug("tiktoken unavailable, using estimator", zap.Error(err))
		return f.fallback.CountMessages(messages)
	}
	return n, nil
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }
func (f *fallbackTokenizer) Name() string   { return f.primary.Name() }

// TrimToBudget 从最新消息向前保留，直到总 token 数不超过 budget。
// budget<=0 表示不限制。返回的切片保持原有顺序。
func TrimToBudget(t Tokenizer, messages []types.Message, budget int) ([]types.Message, error) {
	if budget <= 0 || len(messages) == 0 {
		return messages, nil
	}
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := t.CountMessages(messages[i : i+1])
		if err != nil {
			return nil, err
		}
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return messages[start:], nil
}
