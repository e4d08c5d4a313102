package rag

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/generation"
)

// stubGenerator 脚本化的生成提供者.
// fn 非空时优先; 否则按队列顺序返回 responses, 耗尽后返回 fallback.
type stubGenerator struct {
	mu        sync.Mutex
	fn        func(prompt string) (string, error)
	responses []string
	fallback  string
	calls     []string
}

func (g *stubGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, prompt)

	if g.fn != nil {
		return g.fn(prompt)
	}
	if len(g.responses) > 0 {
		resp := g.responses[0]
		g.responses = g.responses[1:]
		return resp, nil
	}
	if g.fallback != "" {
		return g.fallback, nil
	}
	return "stub answer", nil
}

func (g *stubGenerator) CompleteWithRequest(ctx context.Context, req *generation.CompletionRequest) (*generation.CompletionResponse, error) {
	text, err := g.Complete(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}
	return &generation.CompletionResponse{
		Provider:  g.Name(),
		Model:     req.Model,
		Text:      text,
		CreatedAt: time.Now(),
	}, nil
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// failingGenerator 总是失败的生成提供者.
type failingGenerator struct{}

func (failingGenerator) Complete(context.Context, string) (string, error) {
	return "", fmt.Errorf("llm backend unreachable")
}

func (g failingGenerator) CompleteWithRequest(context.Context, *generation.CompletionRequest) (*generation.CompletionResponse, error) {
	return nil, fmt.Errorf("llm backend unreachable")
}

func (failingGenerator) Name() string { return "failing" }

// testRAGConfig 测试用默认调参.
func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		ChunkSize:              400,
		ChunkOverlap:           80,
		TopK:                   5,
		MinScore:               0.0,
		ContextLimit:           4,
		EnableCitations:        true,
		FusionQueries:          3,
		FusionRRFK:             60,
		SelfRAGMaxIterations:   2,
		RaptorClusterThreshold: 4,
		RaptorMaxLevels:        3,
		RaptorLevelsSearched:   2,
		GraphMaxHops:           2,
	}
}

// newTestDeps 组装进程内协作者: 本地嵌入 + 内存向量库.
func newTestDeps(gen generation.Provider) Deps {
	return Deps{
		Config:    testRAGConfig(),
		Embedder:  embedding.NewLocalProvider(64),
		Generator: gen,
		Vector:    NewInMemoryVectorStore(nil),
	}
}

// mustStore 摄取一段内容并断言成功.
func mustStore(ctx context.Context, svc Service, userID, content string) (*StoreResult, error) {
	return svc.Store(ctx, &StoreRequest{
		Content:     content,
		UserID:      userID,
		ContentType: ContentText,
	})
}
