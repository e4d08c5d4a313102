package generation

import (
	"context"
	"time"
)

// CompletionRequest 表示一次文本生成请求.
type CompletionRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// CompletionResponse 表示生成响应.
type CompletionResponse struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Text      string    `json:"text"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Usage 表示 Token 用量.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider 定义统一的生成提供者接口.
// 检索引擎将其用于摘要、批判、查询扩展、假设文档生成与最终答案合成.
type Provider interface {
	// Complete 为给定提示生成补全.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithRequest 以完整请求参数生成补全.
	CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name 返回提供者名称.
	Name() string
}
