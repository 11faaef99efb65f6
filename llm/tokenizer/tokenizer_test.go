package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/types"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("local", 0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = e.CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "non-empty text counts at least one token")

	ascii, _ := e.CountTokens("abcdefghijkl")
	cjk, _ := e.CountTokens("今天天气很好明天下雨了吗")
	assert.Greater(t, cjk, ascii, "CJK runes weigh more than ASCII")
	assert.Equal(t, 3, ascii)
	assert.Equal(t, 12, cjk)
	assert.Equal(t, 4096, e.MaxTokens())
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("local", 0)

	empty, err := e.CountMessages(nil)
	require.NoError(t, err)
	assert.Equal(t, 3, empty, "reply priming only")

	// 3 (priming) + 3 (overhead) + 2 ("Hi Alice")
	n, err := e.CountMessages([]types.Message{types.NewAssistantMessage("Hi Alice")})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "estimator", ForModel("llama3", zap.NewNop()).Name())
	assert.Equal(t, "tiktoken[o200k_base]", ForModel("gpt-4o-mini", nil).Name())
	assert.Equal(t, 8192, ForModel("gpt-4", nil).MaxTokens())
}

func TestTrimToBudget(t *testing.T) {
	e := NewEstimatorTokenizer("local", 0)
	msgs := []types.Message{
		types.NewUserMessage("first message that is fairly long indeed"),
		types.NewAssistantMessage("second"),
		types.NewUserMessage("third"),
	}

	one, err := e.CountMessages(msgs[2:])
	require.NoError(t, err)
	two, err := e.CountMessages(msgs[1:2])
	require.NoError(t, err)

	got, err := TrimToBudget(e, msgs, one+two)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Content)
	assert.Equal(t, "third", got[1].Content)

	all, err := TrimToBudget(e, msgs, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := TrimToBudget(e, msgs, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}
