package rag

import (
	"context"
	"time"
)

// cragStrategy 质量门控检索 (Corrective RAG).
// 检索结果先经质量评估打标; 平均质量不足时触发一次纠错重写
// 再检索, 纠错路径永不抛错, 失败时沿用未纠正的结果并打标.
type cragStrategy struct {
	*baseStrategy
	rewriter *CorrectiveRewriter
}

// NewCRAGStrategy 创建 crag 模式策略.
func NewCRAGStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	base := newBaseStrategy(ModeCRAG, deps)
	return &cragStrategy{
		baseStrategy: base,
		rewriter:     NewCorrectiveRewriter(deps.Generator, base.logger),
	}, nil
}

func (s *cragStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	items, errRes := s.retrieveByQueryText(ctx, req, req.Query)
	if errRes != nil {
		s.recordQuery("error", 0, start)
		return errRes, nil
	}

	items, avgScore := s.assessor.AssessItems(items)
	avgLabel := s.assessor.Classify(avgScore)

	metadata := map[string]any{
		"search_method":      "vector_similarity",
		"rag_mode":           string(s.mode),
		"quality_score":      avgScore,
		"quality_label":      string(avgLabel),
		"corrective_applied": false,
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordQualityScore(string(avgLabel), avgScore)
	}

	// 平均质量不足时触发纠错重写
	if avgLabel != QualityHigh {
		rewritten, ok := s.rewriter.Rewrite(ctx, req.Query)
		if !ok {
			metadata["corrective_skipped"] = true
		} else {
			corrected, errRes := s.retrieveByQueryText(ctx, req, rewritten)
			if errRes != nil {
				// 纠错检索失败: 沿用原结果
				metadata["corrective_skipped"] = true
				s.recordDegradation("corrective_retrieval")
			} else {
				corrected, correctedScore := s.assessor.AssessItems(corrected)
				if correctedScore > avgScore && len(corrected) > 0 {
					items = corrected
					metadata["corrective_applied"] = true
					metadata["rewritten_query"] = rewritten
					metadata["quality_score"] = correctedScore
					metadata["quality_label"] = string(s.assessor.Classify(correctedScore))
				}
			}
		}
	}

	s.recordQuery("success", len(items), start)
	return &RetrieveResult{
		Items:        items,
		TotalResults: len(items),
		Metadata:     metadata,
	}, nil
}

func (s *cragStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	// 未携带现成检索结果时走质量门控检索
	if len(req.Context) == 0 && req.RetrievalResult == nil {
		retrieval, err := s.Retrieve(ctx, &RetrieveRequest{
			Query:   req.Query,
			UserID:  req.UserID,
			Options: req.Options,
		})
		if err == nil && retrieval.Error == "" {
			req = &GenerateRequest{
				Query:           req.Query,
				UserID:          req.UserID,
				RetrievalResult: retrieval,
				Options:         req.Options,
			}
		}
	}

	result, err := s.baseStrategy.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Metadata != nil && req.RetrievalResult != nil {
		if v, ok := req.RetrievalResult.Metadata["quality_label"]; ok {
			result.Metadata["quality_label"] = v
		}
		if v, ok := req.RetrievalResult.Metadata["corrective_applied"]; ok {
			result.Metadata["corrective_applied"] = v
		}
	}
	return result, nil
}

func (s *cragStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
