package agent

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentwrap/types"
)

// 渲染上下文中由记忆注入的保留变量
const (
	VarHistory  = "history"
	VarMemories = "memories"
)

// Config Agent 配置。由 Builder 在 Build 时固定，之后不再修改。
type Config struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Template     string `json:"template"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	Model       string  `json:"model"`                // LLM 模型
	Temperature float64 `json:"temperature"`          // 温度
	MaxTokens   int     `json:"max_tokens,omitempty"` // 最大 token

	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl,omitempty"`

	MemoryEnabled bool `json:"memory_enabled"`
	MemoryWindow  int  `json:"memory_window,omitempty"` // 注入的最近轮次数
	RecallTopK    int  `json:"recall_top_k,omitempty"`  // 0 表示不做语义召回
	// HistoryTokens 注入历史的 token 上限，0 表示只按轮次限制
	HistoryTokens int `json:"history_tokens,omitempty"`

	Tools             []string `json:"tools,omitempty"` // 可用工具列表
	MaxToolIterations int      `json:"max_tool_iterations"`
	MaxRepairs        int      `json:"max_repairs"`

	// Timeout 单次模型调用超时
	Timeout time.Duration `json:"timeout,omitempty"`
	// UserID 调用方未指定用户时使用
	UserID string `json:"user_id,omitempty"`
}

// DefaultConfig returns the defaults every builder starts from.
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-4o-mini",
		Temperature:       0.7,
		CacheTTL:          time.Hour,
		MemoryWindow:      10,
		MaxToolIterations: 5,
		MaxRepairs:        2,
		Timeout:           60 * time.Second,
		UserID:            types.DefaultUser,
	}
}

// clone 返回深拷贝，工具列表不与调用方共享
func (c Config) clone() Config {
	c.Tools = append([]string(nil), c.Tools...)
	return c
}

// validate 检查数值配置
func (c Config) validate() []error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, ErrEmptyName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be within [0, 2], got %v", c.Temperature))
	}
	if c.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("history tokens must not be negative, got %d", c.HistoryTokens))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max tokens must not be negative, got %d", c.MaxTokens))
	}
	if c.MaxToolIterations < 1 {
		errs = append(errs, fmt.Errorf("max tool iterations must be at least 1, got %d", c.MaxToolIterations))
	}
	if c.MaxRepairs < 0 {
		errs = append(errs, fmt.Errorf("max repairs must not be negative, got %d", c.MaxRepairs))
	}
	if c.MemoryWindow < 0 || c.RecallTopK < 0 {
		errs = append(errs, fmt.Errorf("memory window and recall top-k must not be negative"))
	}
	if c.Timeout < 0 || c.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("timeout and cache ttl must not be negative"))
	}
	return errs
}
