package rag

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// fusionStrategy 查询扩展 + 倒数排名融合 (RAG-Fusion).
// 每个查询变体并发独立检索, 命中按 1/(k+rank) 累加融合分后重排.
type fusionStrategy struct {
	*baseStrategy
	transformer *QueryTransformer
	numQueries  int
	rrfK        int
}

// NewFusionStrategy 创建 rag_fusion 模式策略.
func NewFusionStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	base := newBaseStrategy(ModeFusion, deps)

	numQueries := deps.Config.FusionQueries
	if numQueries <= 0 {
		numQueries = 3
	}
	rrfK := deps.Config.FusionRRFK
	if rrfK <= 0 {
		rrfK = 60
	}

	return &fusionStrategy{
		baseStrategy: base,
		transformer:  NewQueryTransformer(deps.Generator, deps.Cache, base.logger),
		numQueries:   numQueries,
		rrfK:         rrfK,
	}, nil
}

func (s *fusionStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	n := s.numQueries
	if req.Options.NumQueries > 0 {
		n = req.Options.NumQueries
	}

	variants, expandErr := s.transformer.Expand(ctx, req.Query, n)
	if expandErr != nil {
		// 扩展失败降级为单查询检索
		s.recordDegradation("query_expansion")
	}

	rankings := make([][]RetrievalItem, len(variants))
	var mu sync.Mutex
	var firstErr *RetrieveResult

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			items, errRes := s.retrieveByQueryText(gctx, req, variant)
			mu.Lock()
			defer mu.Unlock()
			if errRes != nil {
				if firstErr == nil {
					firstErr = errRes
				}
				return nil
			}
			rankings[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.recordQuery("error", 0, start)
		return failedRetrieve(err), nil
	}

	fused := fuseRankings(rankings, s.rrfK)
	if len(fused) == 0 && firstErr != nil {
		// 所有变体均失败
		s.recordQuery("error", 0, start)
		return firstErr, nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.deps.Config.TopK
	}
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}

	s.recordQuery("success", len(fused), start)
	return &RetrieveResult{
		Items:        fused,
		TotalResults: len(fused),
		Metadata: map[string]any{
			"search_method":  "vector_similarity",
			"rag_mode":       string(s.mode),
			"fusion_method":  "reciprocal_rank_fusion",
			"query_variants": variants,
			"num_queries":    len(variants),
			"expansion_used": len(variants) > 1,
		},
	}, nil
}

// fuseRankings 用 RRF 融合多路排名: fused = Σ 1/(k+rank).
// 同一 chunk 在多路出现时分数累加, 相似度取各路最大值.
func fuseRankings(rankings [][]RetrievalItem, k int) []RetrievalItem {
	byID := make(map[string]*RetrievalItem)
	order := make([]string, 0)

	for _, ranking := range rankings {
		for rank, item := range ranking {
			score := 1.0 / float64(k+rank+1)
			existing, ok := byID[item.Chunk.ID]
			if !ok {
				it := item
				it.FusedScore = score
				byID[item.Chunk.ID] = &it
				order = append(order, item.Chunk.ID)
				continue
			}
			existing.FusedScore += score
			if item.SimilarityScore > existing.SimilarityScore {
				existing.SimilarityScore = item.SimilarityScore
			}
		}
	}

	fused := make([]RetrievalItem, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].FusedScore > fused[j].FusedScore
	})
	return fused
}

func (s *fusionStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	// 未携带现成检索结果时走融合检索
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
		result.Metadata["fusion_enabled"] = true
		if req.RetrievalResult != nil {
			if v, ok := req.RetrievalResult.Metadata["fusion_method"]; ok {
				result.Metadata["fusion_method"] = v
			}
			if v, ok := req.RetrievalResult.Metadata["num_queries"]; ok {
				result.Metadata["num_queries"] = v
			}
		}
	}
	return result, nil
}

func (s *fusionStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
