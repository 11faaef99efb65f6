package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig OpenAI 嵌入配置
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Model      string `yaml:"model" env:"MODEL"`           // text-embedding-3-small
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"` // 0 表示使用模型默认维度
	MaxBatch   int    `yaml:"max_batch" env:"MAX_BATCH"`
}

// OpenAIEmbedder 基于 openai-go Embeddings API
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIEmbedder 创建嵌入器。client 为 nil 时按配置新建。
func NewOpenAIEmbedder(client *openai.Client, cfg OpenAIConfig, logger *zap.Logger) *OpenAIEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 256
	}
	if client == nil {
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		c := openai.NewClient(opts...)
		client = &c
	}
	return &OpenAIEmbedder{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "embedding"), zap.String("model", cfg.Model)),
	}
}

// Dimensions 返回配置维度；未配置时按 text-embedding-3-small 的 1536
func (e *OpenAIEmbedder) Dimensions() int {
	if e.cfg.Dimensions > 0 {
		return e.cfg.Dimensions
	}
	return 1536
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.MaxBatch {
		end := min(start+e.cfg.MaxBatch, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.cfg.Model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.cfg.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.cfg.Dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, ErrCountMismatch
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		vec := make([]float32, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	e.logger.Debug("embedded batch", zap.Int("count", len(texts)), zap.Int64("tokens", resp.Usage.TotalTokens))
	return out, nil
}
