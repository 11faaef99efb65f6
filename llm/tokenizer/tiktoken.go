package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/agentwrap/types"
)

// 按前缀匹配，长前缀在前
var openAIModels = []struct {
	prefix   string
	encoding string
	window   int
}{
	{"gpt-4o-mini", "o200k_base", 128_000},
	{"gpt-4o", "o200k_base", 128_000},
	{"gpt-4.1", "o200k_base", 1_047_576},
	{"o1", "o200k_base", 200_000},
	{"o3", "o200k_base", 200_000},
	{"gpt-4-turbo", "cl100k_base", 128_000},
	{"gpt-4", "cl100k_base", 8_192},
	{"gpt-3.5-turbo", "cl100k_base", 16_385},
	{"text-embedding-3", "cl100k_base", 8_191},
}

func encodingFor(model string) (encoding string, window int, ok bool) {
	for _, m := range openAIModels {
		if strings.HasPrefix(model, m.prefix) {
			return m.encoding, m.window, true
		}
	}
	return "", 0, false
}

// 编码表首次使用时才加载（可能需要下载 BPE 文件），进程内共享
var encodings sync.Map // name -> func() (*tiktoken.Tiktoken, error)

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	v, _ := encodings.LoadOrStore(name, sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("load tiktoken encoding %s: %w", name, err)
		}
		return enc, nil
	}))
	return v.(func() (*tiktoken.Tiktoken, error))()
}

// tiktokenCounter 与 OpenAI 服务端计数一致
type tiktokenCounter struct {
	encoding string
	window   int
}

func (t tiktokenCounter) count(enc *tiktoken.Tiktoken, s string) int {
	if s == "" {
		return 0
	}
	return len(enc.Encode(s, nil, nil))
}

func (t tiktokenCounter) CountTokens(text string) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	return t.count(enc, text), nil
}

// CountMessages 口径与估算器相同，见 perMessageOverhead
func (t tiktokenCounter) CountMessages(messages []types.Message) (int, error) {
	enc, err := loadEncoding(t.encoding)
	if err != nil {
		return 0, err
	}
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead + t.count(enc, m.Content) + t.count(enc, m.Name)
	}
	return total, nil
}

func (t tiktokenCounter) MaxTokens() int { return t.window }
func (t tiktokenCounter) Name() string   { return "tiktoken[" + t.encoding + "]" }
