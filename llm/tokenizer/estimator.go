package tokenizer

import (
	"unicode"

	"github.com/BaSui01/agentwrap/types"
)

// 与 tiktoken 的 chat 计数保持同一口径：每条消息 3 个开销，回复前缀 3 个
const (
	perMessageOverhead = 3
	replyPriming       = 3
	defaultContext     = 4096
)

// EstimatorTokenizer 离线估算：表意文字每字约 1 token，其余字符每 4 个约 1 token。
// 用于非 OpenAI 模型，或 tiktoken 编码数据无法加载时。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer maxTokens<=0 时取 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultContext
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	return estimate(text), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []types.Message) (int, error) {
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead + estimate(m.Content)
		if m.Name != "" {
			total += estimate(m.Name)
		}
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

func estimate(text string) int {
	if text == "" {
		return 0
	}
	var ideographs, other int
	for _, r := range text {
		if isIdeographic(r) {
			ideographs++
		} else {
			other++
		}
	}
	n := ideographs + (other+3)/4
	return max(n, 1)
}

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
