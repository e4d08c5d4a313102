package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/generation"
)

// QualityConfig 质量评估配置 (CRAG).
type QualityConfig struct {
	HighThreshold   float64 `json:"high_threshold"`   // score >= high → high
	MediumThreshold float64 `json:"medium_threshold"` // score >= medium → medium
}

// DefaultQualityConfig 默认阈值.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		HighThreshold:   0.7,
		MediumThreshold: 0.4,
	}
}

// QualityAssessor 基于加权启发式的内容质量评估器.
// 可替换为模型评估器而不改变契约.
type QualityAssessor struct {
	config QualityConfig
	logger *zap.Logger
}

// NewQualityAssessor 创建质量评估器.
func NewQualityAssessor(config QualityConfig, logger *zap.Logger) *QualityAssessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HighThreshold <= 0 {
		config = DefaultQualityConfig()
	}
	return &QualityAssessor{
		config: config,
		logger: logger.With(zap.String("component", "quality_assessor")),
	}
}

var digitToken = regexp.MustCompile(`\d`)

// Assess 对内容打分, 返回 [0,1].
// 加权组合长度、结构、具体性与词汇多样性信号.
func (a *QualityAssessor) Assess(content string) float64 {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0.0
	}

	words := strings.Fields(content)
	wordCount := len(words)

	// 长度信号: 60 词以上饱和
	lengthScore := float64(wordCount) / 60.0
	if lengthScore > 1.0 {
		lengthScore = 1.0
	}

	// 结构信号: 是否构成完整句子
	structureScore := float64(wordCount) / 8.0
	if structureScore > 1.0 {
		structureScore = 1.0
	}

	// 具体性信号: 数字、句中大写词、多句标点
	signals := 0
	for i, w := range words {
		if digitToken.MatchString(w) {
			signals++
			continue
		}
		if i > 0 && len(w) > 1 && w[0] >= 'A' && w[0] <= 'Z' {
			signals++
		}
	}
	signals += strings.Count(content, ",") / 2
	specificity := float64(signals) / 4.0
	if specificity > 1.0 {
		specificity = 1.0
	}

	// 词汇多样性
	unique := make(map[string]bool, wordCount)
	for _, w := range words {
		unique[strings.ToLower(strings.Trim(w, ".,!?;:"))] = true
	}
	diversity := float64(len(unique)) / float64(wordCount)

	score := 0.45*lengthScore + 0.25*structureScore + 0.15*specificity + 0.15*diversity
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// Classify 把得分映射为质量标签.
func (a *QualityAssessor) Classify(score float64) QualityLabel {
	switch {
	case score >= a.config.HighThreshold:
		return QualityHigh
	case score >= a.config.MediumThreshold:
		return QualityMedium
	default:
		return QualityLow
	}
}

// AssessItems 为每条检索结果打标签并返回平均得分.
func (a *QualityAssessor) AssessItems(items []RetrievalItem) ([]RetrievalItem, float64) {
	if len(items) == 0 {
		return items, 0.0
	}

	var sum float64
	for i := range items {
		score := a.Assess(items[i].Chunk.RawText)
		items[i].QualityLabel = a.Classify(score)
		sum += score
	}
	return items, sum / float64(len(items))
}

// =============================================================================
// 纠错查询重写
// =============================================================================

// CorrectiveRewriter 在检索质量不足时重写查询 (CRAG 纠错步骤).
type CorrectiveRewriter struct {
	generator generation.Provider
	logger    *zap.Logger
}

// NewCorrectiveRewriter 创建纠错重写器.
func NewCorrectiveRewriter(generator generation.Provider, logger *zap.Logger) *CorrectiveRewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorrectiveRewriter{
		generator: generator,
		logger:    logger.With(zap.String("component", "corrective_rewriter")),
	}
}

// Rewrite 通过生成后端重写查询以改善召回.
// 永不抛错: 纠错服务失败时返回原查询与 false.
func (r *CorrectiveRewriter) Rewrite(ctx context.Context, query string) (string, bool) {
	if r.generator == nil {
		return query, false
	}

	prompt := fmt.Sprintf(`Rewrite the following search query to retrieve more relevant and specific results.
- Expand abbreviations and add key domain terms
- Keep the core information need intact
Return only the rewritten query.

Original query: %s

Rewritten query:`, query)

	rewritten, err := r.generator.Complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("corrective rewrite failed, using original query", zap.Error(err))
		return query, false
	}

	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" || rewritten == query {
		return query, false
	}
	return rewritten, true
}
