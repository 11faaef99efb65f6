package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"go.uber.org/zap"

	"github.com/BaSui01/agentwrap/internal/tlsutil"
	"github.com/BaSui01/agentwrap/llm"
	"github.com/BaSui01/agentwrap/llm/providers"
	"github.com/BaSui01/agentwrap/types"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"
)

// Config OpenAI Provider 配置。BaseURL 可指向任何 OpenAI 兼容服务（Ollama、vLLM 等）。
type Config struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Provider 基于 openai-go SDK 的 Chat Completions 实现
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// New 创建新的 OpenAI 提供者实例.
// SDK 自带的重试被关闭，重试由 llm.ResilientProvider 统一负责。
func New(cfg Config, logger *zap.Logger, opts ...option.RequestOption) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, option.WithHTTPClient(tlsutil.HTTPClient(cfg.Timeout)))
	clientOpts = append(clientOpts, opts...)

	client := openai.NewClient(clientOpts...)
	return &Provider{
		client: &client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "provider"), zap.String("provider", providerName)),
	}
}

// Client 返回底层 SDK 客户端，供 Embedding 复用
func (p *Provider) Client() *openai.Client { return p.client }

func (p *Provider) Name() string { return providerName }

func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

// Completion 实现 llm.Provider
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error()).WithProvider(providerName)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapSDKError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty choices in completion").
			WithProvider(providerName).
			WithRetryable(true)
	}

	p.logger.Debug("completion done",
		zap.String("model", resp.Model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)),
	)

	out := &llm.ChatResponse{
		ID:       resp.ID,
		Provider: providerName,
		Model:    resp.Model,
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	for i, c := range resp.Choices {
		msg := types.Message{Role: types.RoleAssistant, Content: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        i,
			FinishReason: string(c.FinishReason),
			Message:      msg,
		})
	}
	return out, nil
}

// HealthCheck 通过列出模型做轻量探活
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.List(ctx)
	status := &llm.HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	if err != nil {
		status.Message = err.Error()
		return status, mapSDKError(err)
	}
	return status, nil
}

func (p *Provider) buildParams(req *llm.ChatRequest) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:       providers.ChooseModel(req.Model, p.cfg.Model, defaultModel),
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.UserID != "" {
		params.User = param.NewOpt(req.UserID)
	}

	for _, m := range req.Messages {
		mp, err := convertMessage(m)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, mp)
	}

	for _, t := range req.Tools {
		var schema openai.FunctionParameters
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return params, fmt.Errorf("tool %s: invalid parameter schema: %w", t.Name, err)
			}
		}
		fn := openai.FunctionDefinitionParam{Name: t.Name, Parameters: schema}
		if t.Description != "" {
			fn.Description = param.NewOpt(t.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func convertMessage(m types.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return openai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return openai.UserMessage(m.Content), nil
	case types.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID), nil
	case types.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content), nil
		}
		asst := &openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(m.Content)}
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: asst}, nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported message role %q", m.Role)
	}
}

// mapSDKError 将 SDK 错误映射为统一错误码
func mapSDKError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return providers.MapHTTPError(apiErr.StatusCode, msg, providerName).WithCause(err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// 网络层错误视为可重试
	return types.NewError(types.ErrUpstreamError, "openai request failed").
		WithCause(err).
		WithRetryable(true).
		WithProvider(providerName)
}
