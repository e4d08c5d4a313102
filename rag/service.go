package rag

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/embedding"
	"github.com/BaSui01/ragflow/generation"
	"github.com/BaSui01/ragflow/internal/cache"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/types"
)

// Service 是所有检索策略实现的统一契约.
// 预期内的失败 (校验、可选依赖不可用) 折叠进结果信封,
// Go error 只用于不可恢复的编程错误.
type Service interface {
	// Store 摄取内容: 共享流水线 + 模式专属后处理.
	Store(ctx context.Context, req *StoreRequest) (*StoreResult, error)

	// Retrieve 执行模式专属的排序算法.
	Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error)

	// Generate 组装上下文并调用生成后端.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Query 先检索后生成的组合操作.
	Query(ctx context.Context, req *QueryRequest) (*QueryResult, error)

	// Mode 返回策略的模式名.
	Mode() Mode
}

// Deps 策略的外部协作者集合.
// Graph、Metrics、Cache 均为可选, 缺失时相关路径降级.
type Deps struct {
	Config    config.RAGConfig
	Embedder  embedding.Provider
	Generator generation.Provider
	Vector    VectorStore
	Graph     GraphStore
	Cache     *cache.Manager
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// validate 校验必需协作者.
func (d *Deps) validate() error {
	if d.Embedder == nil {
		return types.Validation("embedding provider is required")
	}
	if d.Generator == nil {
		return types.Validation("generation provider is required")
	}
	if d.Vector == nil {
		return types.Validation("vector store is required")
	}
	return nil
}

// =============================================================================
// 基础策略 (simple 模式, 同时是其他策略的组合基座)
// =============================================================================

type baseStrategy struct {
	mode        Mode
	deps        Deps
	pipeline    *Pipeline
	assessor    *QualityAssessor
	synthesizer *Synthesizer
	logger      *zap.Logger
}

func newBaseStrategy(mode Mode, deps Deps) *baseStrategy {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "rag_"+string(mode)))

	pipelineCfg := DefaultPipelineConfig()
	if deps.Config.ChunkSize > 0 {
		pipelineCfg.Chunking.ChunkSize = deps.Config.ChunkSize
	}
	if deps.Config.ChunkOverlap > 0 {
		pipelineCfg.Chunking.ChunkOverlap = deps.Config.ChunkOverlap
	}

	synthCfg := DefaultSynthesisConfig()
	if deps.Config.ContextLimit > 0 {
		synthCfg.ContextLimit = deps.Config.ContextLimit
	}
	synthCfg.EnableCitations = deps.Config.EnableCitations

	tokenizer := Tokenizer(NewEstimatorTokenizer())
	if deps.Embedder != nil {
		// tiktoken 编码不可用时内部自动回退到估算
		tokenizer = NewTiktokenTokenizer("gpt-4o-mini", logger)
	}

	return &baseStrategy{
		mode:        mode,
		deps:        deps,
		pipeline:    NewPipeline(pipelineCfg, deps.Embedder, deps.Vector, tokenizer, logger),
		assessor:    NewQualityAssessor(DefaultQualityConfig(), logger),
		synthesizer: NewSynthesizer(synthCfg, deps.Generator, logger).WithMetrics(deps.Metrics),
		logger:      logger,
	}
}

// NewSimpleStrategy 创建 simple 模式策略.
func NewSimpleStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return newBaseStrategy(ModeSimple, deps), nil
}

func (s *baseStrategy) Mode() Mode { return s.mode }

// Store 执行共享摄取流水线.
func (s *baseStrategy) Store(ctx context.Context, req *StoreRequest) (*StoreResult, error) {
	start := time.Now()

	if req.UserID == "" {
		return failedStore(types.Validation("user_id is required")), nil
	}

	chunks, err := s.pipeline.Ingest(ctx, req)
	if err != nil {
		s.recordIngest("error", 0, start)
		return failedStore(err), nil
	}

	s.recordIngest("success", len(chunks), start)
	return &StoreResult{
		Success:         true,
		ChunksProcessed: len(chunks),
		ModeMetadata: map[string]any{
			"rag_mode": string(s.mode),
		},
	}, nil
}

// Retrieve 纯向量相似度检索.
func (s *baseStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	items, errRes := s.retrieveByQueryText(ctx, req, req.Query)
	if errRes != nil {
		s.recordQuery("error", 0, start)
		return errRes, nil
	}

	s.recordQuery("success", len(items), start)
	return &RetrieveResult{
		Items:        items,
		TotalResults: len(items),
		Metadata: map[string]any{
			"search_method": "vector_similarity",
			"rag_mode":      string(s.mode),
		},
	}, nil
}

// retrieveByQueryText 以给定文本做一次作用域检索, 返回排好序的条目.
// 失败时返回 (nil, 错误信封).
func (s *baseStrategy) retrieveByQueryText(ctx context.Context, req *RetrieveRequest, queryText string) ([]RetrievalItem, *RetrieveResult) {
	if req.Query == "" {
		return nil, failedRetrieve(types.Validation("query is empty"))
	}
	if req.UserID == "" {
		return nil, failedRetrieve(types.Validation("user_id is required"))
	}

	vec, err := s.embedQuery(ctx, queryText)
	if err != nil {
		return nil, failedRetrieve(err)
	}

	items, err := s.searchByEmbedding(ctx, req, vec)
	if err != nil {
		return nil, failedRetrieve(err)
	}
	return items, nil
}

// searchByEmbedding 用现成的嵌入执行作用域向量检索.
func (s *baseStrategy) searchByEmbedding(ctx context.Context, req *RetrieveRequest, queryEmbedding []float64) ([]RetrievalItem, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.deps.Config.TopK
	}
	if topK <= 0 {
		topK = 5
	}

	hits, err := s.deps.Vector.Search(ctx, SearchQuery{
		Embedding: queryEmbedding,
		UserID:    req.UserID,
		TopK:      topK,
		MinScore:  s.deps.Config.MinScore,
		Filters:   req.Filters,
	})
	if err != nil {
		return nil, err
	}

	items := make([]RetrievalItem, len(hits))
	for i, hit := range hits {
		items[i] = RetrievalItem{
			Chunk:           hit.Chunk,
			SimilarityScore: hit.Score,
			Rank:            i + 1,
		}
	}
	return items, nil
}

// embedQuery 带超时和单次有界重试的查询嵌入.
func (s *baseStrategy) embedQuery(ctx context.Context, query string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, types.Timeout("embedding", ctx.Err())
			case <-time.After(500 * time.Millisecond):
			}
		}

		embedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		vec, err := s.deps.Embedder.EmbedQuery(embedCtx, query)
		cancel()

		if err == nil {
			return vec, nil
		}
		lastErr = err
		if !types.IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// Generate 以已有检索结果或新检索的上下文合成答案.
func (s *baseStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req.Query == "" {
		return failedGenerate(types.Validation("query is empty")), nil
	}

	items, degraded := s.contextItems(ctx, req)

	result, err := s.synthesizer.Synthesize(ctx, req.Query, items, req.Options)
	if err != nil {
		return failedGenerate(err), nil
	}

	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["rag_mode_used"] = string(s.mode)
	if degraded {
		result.Metadata["retrieval_degraded"] = true
	}
	return result, nil
}

// contextItems 解析 Generate 请求的上下文来源.
// 优先级: 显式 Context > 已有 RetrievalResult > 现场检索.
// 现场检索失败只降级为空上下文, 不中断生成.
func (s *baseStrategy) contextItems(ctx context.Context, req *GenerateRequest) ([]RetrievalItem, bool) {
	if len(req.Context) > 0 {
		items := make([]RetrievalItem, len(req.Context))
		for i, text := range req.Context {
			items[i] = RetrievalItem{
				Chunk:           &Chunk{RawText: text, UserID: req.UserID},
				SimilarityScore: 1.0,
				Rank:            i + 1,
			}
		}
		return items, false
	}

	if req.RetrievalResult != nil {
		return req.RetrievalResult.Items, false
	}

	res, err := s.Retrieve(ctx, &RetrieveRequest{
		Query:   req.Query,
		UserID:  req.UserID,
		Options: req.Options,
	})
	if err != nil || res.Error != "" {
		s.logger.Warn("inline retrieval failed, generating without context",
			zap.String("error", errString(err, res)))
		return nil, true
	}
	return res.Items, false
}

// Query 组合检索与生成.
func (s *baseStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}

// composeQuery 用策略自身的 Retrieve/Generate 组合完整查询.
// 派生策略覆写 Query 时复用该流程以保持信封一致.
func composeQuery(ctx context.Context, svc Service, req *QueryRequest) (*QueryResult, error) {
	retrieval, err := svc.Retrieve(ctx, &RetrieveRequest{
		Query:   req.Query,
		UserID:  req.UserID,
		Options: req.Options,
	})
	if err != nil {
		return nil, err
	}
	if retrieval.Error != "" {
		return &QueryResult{
			Success:   false,
			Error:     retrieval.Error,
			ErrorKind: retrieval.ErrorKind,
			Retrieval: retrieval,
		}, nil
	}

	gen, err := svc.Generate(ctx, &GenerateRequest{
		Query:           req.Query,
		UserID:          req.UserID,
		RetrievalResult: retrieval,
		Options:         req.Options,
	})
	if err != nil {
		return nil, err
	}

	return &QueryResult{
		Success:   gen.Success,
		Answer:    gen.Answer,
		Citations: gen.Citations,
		Retrieval: retrieval,
		Metadata:  gen.Metadata,
		Error:     gen.Error,
		ErrorKind: gen.ErrorKind,
	}, nil
}

// =============================================================================
// 指标与信封辅助
// =============================================================================

func (s *baseStrategy) recordIngest(status string, chunks int, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordIngest(string(s.mode), status, chunks, time.Since(start))
	}
}

func (s *baseStrategy) recordQuery(status string, items int, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordQuery(string(s.mode), status, items, time.Since(start))
	}
}

func (s *baseStrategy) recordDegradation(component string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDegradation(string(s.mode), component)
	}
}

func failedStore(err error) *StoreResult {
	return &StoreResult{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(types.CodeOf(err)),
	}
}

func failedRetrieve(err error) *RetrieveResult {
	return &RetrieveResult{
		Error:     err.Error(),
		ErrorKind: string(types.CodeOf(err)),
	}
}

func errString(err error, res *RetrieveResult) string {
	if err != nil {
		return err.Error()
	}
	if res != nil {
		return res.Error
	}
	return ""
}
