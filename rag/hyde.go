package rag

import (
	"context"
	"time"
)

// hydeStrategy 假设性文档嵌入 (HyDE).
// 先让 LLM 写一段假设性回答, 用该段落的嵌入做向量检索,
// 缩小短查询与长文档之间的嵌入空间差距.
// 假设性文档生成失败时降级为普通查询嵌入检索.
type hydeStrategy struct {
	*baseStrategy
	transformer *QueryTransformer
}

// NewHyDEStrategy 创建 hyde 模式策略.
func NewHyDEStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	base := newBaseStrategy(ModeHyDE, deps)
	return &hydeStrategy{
		baseStrategy: base,
		transformer:  NewQueryTransformer(deps.Generator, deps.Cache, base.logger),
	}, nil
}

func (s *hydeStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	metadata := map[string]any{
		"rag_mode":         string(s.mode),
		"retrieval_method": "hyde_embedding",
	}

	queryText := req.Query
	doc, err := s.transformer.HypotheticalDocument(ctx, req.Query)
	if err != nil {
		// 降级: 直接嵌入原始查询
		s.recordDegradation("hypothetical_document")
		metadata["retrieval_method"] = "query_embedding"
		metadata["hyde_degraded"] = true
	} else {
		queryText = doc
		metadata["hypothetical_document"] = doc
	}

	items, errRes := s.retrieveByQueryText(ctx, req, queryText)
	if errRes != nil {
		s.recordQuery("error", 0, start)
		return errRes, nil
	}

	s.recordQuery("success", len(items), start)
	return &RetrieveResult{
		Items:        items,
		TotalResults: len(items),
		Metadata:     metadata,
	}, nil
}

func (s *hydeStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	// 未携带现成检索结果时走假设性文档检索
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
	if result.Metadata != nil {
		result.Metadata["hyde_enabled"] = true
		if req.RetrievalResult != nil {
			if v, ok := req.RetrievalResult.Metadata["retrieval_method"]; ok {
				result.Metadata["retrieval_method"] = v
			}
			if v, ok := req.RetrievalResult.Metadata["hyde_degraded"]; ok {
				result.Metadata["hyde_degraded"] = v
			}
		}
	}
	return result, nil
}

func (s *hydeStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
