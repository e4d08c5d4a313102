package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/generation"
	"github.com/BaSui01/ragflow/internal/cache"
)

// =============================================================================
// 🔄 查询变换 (扩展 / 假设性文档)
// =============================================================================

// numberedLine 匹配 LLM 输出的编号前缀, 如 "1. " 或 "2) ".
var numberedLine = regexp.MustCompile(`^\d+[\.\)]\s*`)

// QueryTransformer 基于 LLM 的查询变换器.
// 扩展与 HyDE 结果可经 Redis 缓存, 缓存不可用时直接调用 LLM.
type QueryTransformer struct {
	generator generation.Provider
	cache     *cache.Manager
	logger    *zap.Logger
}

// NewQueryTransformer 创建查询变换器. cache 可为 nil.
func NewQueryTransformer(generator generation.Provider, cacheMgr *cache.Manager, logger *zap.Logger) *QueryTransformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryTransformer{
		generator: generator,
		cache:     cacheMgr,
		logger:    logger.With(zap.String("component", "query_transformer")),
	}
}

// Expand 生成 n 个语义相近的查询变体, 原始查询始终位于首位.
// LLM 失败时降级为仅含原始查询的切片并返回错误供调用方打标.
func (t *QueryTransformer) Expand(ctx context.Context, query string, n int) ([]string, error) {
	if n <= 1 {
		return []string{query}, nil
	}

	cacheKey := cache.ExpansionKey(query, n)
	if t.cache != nil {
		var cached []string
		if err := t.cache.GetJSON(ctx, cacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	prompt := fmt.Sprintf(`Generate %d alternative phrasings of the following search query.
Each phrasing should capture the same intent using different vocabulary or perspective.
Return one phrasing per line, numbered.

Query: %s`, n-1, query)

	raw, err := t.generator.Complete(ctx, prompt)
	if err != nil {
		return []string{query}, err
	}

	variants := []string{query}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(numberedLine.ReplaceAllString(strings.TrimSpace(line), ""))
		line = strings.Trim(line, `"`)
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		variants = append(variants, line)
		if len(variants) >= n {
			break
		}
	}

	if t.cache != nil && len(variants) > 1 {
		if err := t.cache.SetJSON(ctx, cacheKey, variants, 30*time.Minute); err != nil {
			t.logger.Debug("缓存查询扩展失败", zap.Error(err))
		}
	}
	return variants, nil
}

// HypotheticalDocument 生成回答该查询的假设性段落 (HyDE).
func (t *QueryTransformer) HypotheticalDocument(ctx context.Context, query string) (string, error) {
	cacheKey := cache.HyDEKey(query)
	if t.cache != nil {
		if cached, err := t.cache.Get(ctx, cacheKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	prompt := fmt.Sprintf(`Write a short factual passage that directly answers the following question.
Write as if excerpted from an authoritative reference document. Do not mention the question itself.

Question: %s

Passage:`, query)

	doc, err := t.generator.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return "", fmt.Errorf("empty hypothetical document")
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, cacheKey, doc, 30*time.Minute); err != nil {
			t.logger.Debug("缓存 HyDE 文档失败", zap.Error(err))
		}
	}
	return doc, nil
}
