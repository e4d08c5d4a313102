package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityAssessor_OrdersByRichness(t *testing.T) {
	assessor := NewQualityAssessor(DefaultQualityConfig(), nil)

	rich := "Retrieval augmented generation combines a vector index with a language model. " +
		"The index returns the 5 most similar passages, scored between 0.0 and 1.0, and the model " +
		"synthesizes an answer grounded in those passages. Benchmarks from 2023 show that grounding " +
		"reduces hallucination rates by roughly 40 percent, especially for factual questions about " +
		"entities such as OpenAI, Wikipedia, and PubMed. Citation markers let readers verify each claim."
	medium := "Vector search returns the most similar stored passages quickly."
	poor := "search stuff here"

	richScore := assessor.Assess(rich)
	mediumScore := assessor.Assess(medium)
	poorScore := assessor.Assess(poor)

	assert.Greater(t, richScore, mediumScore)
	assert.Greater(t, mediumScore, poorScore)

	assert.Equal(t, QualityHigh, assessor.Classify(richScore))
	assert.Equal(t, QualityMedium, assessor.Classify(mediumScore))
	assert.Equal(t, QualityLow, assessor.Classify(poorScore))
}

func TestQualityAssessor_ScoreBounds(t *testing.T) {
	assessor := NewQualityAssessor(DefaultQualityConfig(), nil)

	for _, content := range []string{"", "word", "a b c d e f g h i j k l m n o p"} {
		score := assessor.Assess(content)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestQualityAssessor_ClassifyThresholds(t *testing.T) {
	assessor := NewQualityAssessor(QualityConfig{HighThreshold: 0.7, MediumThreshold: 0.4}, nil)

	assert.Equal(t, QualityHigh, assessor.Classify(0.7))
	assert.Equal(t, QualityMedium, assessor.Classify(0.69))
	assert.Equal(t, QualityMedium, assessor.Classify(0.4))
	assert.Equal(t, QualityLow, assessor.Classify(0.39))
}

func TestQualityAssessor_AssessItems(t *testing.T) {
	assessor := NewQualityAssessor(DefaultQualityConfig(), nil)

	items := []RetrievalItem{
		{Chunk: &Chunk{RawText: "Transformer models process tokens in parallel using self-attention, which scales training to billions of parameters across 8 or more accelerators."}},
		{Chunk: &Chunk{RawText: "short text"}},
	}

	tagged, avg := assessor.AssessItems(items)
	require.Len(t, tagged, 2)
	assert.NotEmpty(t, tagged[0].QualityLabel)
	assert.NotEmpty(t, tagged[1].QualityLabel)
	assert.Greater(t, avg, 0.0)

	_, emptyAvg := assessor.AssessItems(nil)
	assert.Equal(t, 0.0, emptyAvg)
}

func TestCorrectiveRewriter_NeverFails(t *testing.T) {
	ctx := context.Background()

	// 生成失败: 返回原查询且 ok=false
	r := NewCorrectiveRewriter(failingGenerator{}, nil)
	query, ok := r.Rewrite(ctx, "what is rag")
	assert.Equal(t, "what is rag", query)
	assert.False(t, ok)

	// 生成为空: 同样不改写
	r = NewCorrectiveRewriter(&stubGenerator{fallback: "   "}, nil)
	query, ok = r.Rewrite(ctx, "what is rag")
	assert.Equal(t, "what is rag", query)
	assert.False(t, ok)

	// 正常改写
	r = NewCorrectiveRewriter(&stubGenerator{fallback: "what is retrieval augmented generation"}, nil)
	query, ok = r.Rewrite(ctx, "what is rag")
	assert.True(t, ok)
	assert.Equal(t, "what is retrieval augmented generation", query)

	// 无生成器: 直接跳过
	r = NewCorrectiveRewriter(nil, nil)
	query, ok = r.Rewrite(ctx, "what is rag")
	assert.Equal(t, "what is rag", query)
	assert.False(t, ok)
}
