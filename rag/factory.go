package rag

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragflow/internal/telemetry"
	"github.com/BaSui01/ragflow/types"
)

// Constructor 策略构造器.
type Constructor func(deps Deps) (Service, error)

// Engine 按模式分发请求的策略引擎.
type Engine struct {
	deps      Deps
	registry  map[Mode]Constructor
	instances map[Mode]Service
	semCache  *SemanticCache
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewEngine 创建引擎并注册全部内置策略.
func NewEngine(deps Deps) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		deps:      deps,
		registry:  make(map[Mode]Constructor),
		instances: make(map[Mode]Service),
		logger:    logger.With(zap.String("component", "rag_engine")),
	}

	e.registry[ModeSimple] = NewSimpleStrategy
	e.registry[ModeCRAG] = NewCRAGStrategy
	e.registry[ModeRaptor] = NewRaptorStrategy
	e.registry[ModeSelfRAG] = NewSelfRAGStrategy
	e.registry[ModeFusion] = NewFusionStrategy
	e.registry[ModeHyDE] = NewHyDEStrategy
	e.registry[ModeGraph] = NewGraphStrategy

	if deps.Config.EnableSemanticCache {
		e.semCache = NewSemanticCache(
			NewInMemoryVectorStore(logger),
			SemanticCacheConfig{SimilarityThreshold: deps.Config.SemanticCacheThreshold},
			logger,
		)
	}

	return e, nil
}

// Register 注册外部策略 (custom 模式或全新模式名).
// 覆盖内置模式同样允许.
func (e *Engine) Register(mode Mode, ctor Constructor) error {
	if mode == "" {
		return types.Validation("mode name is empty")
	}
	if ctor == nil {
		return types.Validation("constructor is nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[mode] = ctor
	delete(e.instances, mode)

	e.logger.Info("strategy registered", zap.String("mode", string(mode)))
	return nil
}

// Service 返回指定模式的策略实例 (懒构造, 进程内复用).
// 空模式默认 simple; 未注册的模式返回校验错误.
func (e *Engine) Service(mode Mode) (Service, error) {
	if mode == "" {
		mode = ModeSimple
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if svc, ok := e.instances[mode]; ok {
		return svc, nil
	}

	ctor, ok := e.registry[mode]
	if !ok {
		return nil, types.Validation("unknown rag_mode: %s", mode)
	}

	svc, err := ctor(e.deps)
	if err != nil {
		return nil, err
	}
	e.instances[mode] = svc
	return svc, nil
}

// =============================================================================
// 按请求模式分发
// =============================================================================

// spanAttrs 分发 span 的公共属性.
func spanAttrs(mode Mode, userID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rag.mode", string(mode)),
		attribute.String("rag.user_id", userID),
	}
}

// Store 按 req.Options.Mode 分发摄取.
func (e *Engine) Store(ctx context.Context, req *StoreRequest) (*StoreResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.store", spanAttrs(req.Options.Mode, req.UserID)...)
	defer span.End()

	svc, err := e.Service(req.Options.Mode)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
		return failedStore(err), nil
	}
	res, err := svc.Store(ctx, req)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
	} else if res != nil && !res.Success {
		telemetry.FailSpan(span, res.Error)
	}
	return res, err
}

// Retrieve 按 req.Options.Mode 分发检索.
func (e *Engine) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.retrieve", spanAttrs(req.Options.Mode, req.UserID)...)
	defer span.End()

	svc, err := e.Service(req.Options.Mode)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
		return failedRetrieve(err), nil
	}
	res, err := svc.Retrieve(ctx, req)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
	} else if res != nil && res.Error != "" {
		telemetry.FailSpan(span, res.Error)
	}
	return res, err
}

// Generate 按 req.Options.Mode 分发生成.
func (e *Engine) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.generate", spanAttrs(req.Options.Mode, req.UserID)...)
	defer span.End()

	svc, err := e.Service(req.Options.Mode)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
		return failedGenerate(err), nil
	}
	res, err := svc.Generate(ctx, req)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
	} else if res != nil && !res.Success {
		telemetry.FailSpan(span, res.Error)
	}
	return res, err
}

// Query 按 req.Options.Mode 分发组合查询.
// 启用语义缓存时, 近似重复的查询直接复用上次合成的答案.
func (e *Engine) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "rag.query", spanAttrs(req.Options.Mode, req.UserID)...)
	defer span.End()

	svc, err := e.Service(req.Options.Mode)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
		return &QueryResult{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: string(types.CodeOf(err)),
		}, nil
	}

	var queryEmbedding []float64
	if e.semCache != nil && req.Query != "" && req.UserID != "" {
		emb, embErr := e.deps.Embedder.EmbedQuery(ctx, req.Query)
		if embErr != nil {
			e.logger.Warn("semantic cache embed failed", zap.Error(embErr))
		} else {
			queryEmbedding = emb
			if entry, ok := e.semCache.Get(ctx, req.UserID, queryEmbedding); ok {
				span.SetAttributes(attribute.Bool("rag.semantic_cache_hit", true))
				if e.deps.Metrics != nil {
					e.deps.Metrics.RecordCacheHit("semantic")
				}
				return &QueryResult{
					Success: true,
					Answer:  entry.RawText,
					Metadata: map[string]any{
						"rag_mode":           string(svc.Mode()),
						"semantic_cache_hit": true,
					},
				}, nil
			}
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordCacheMiss("semantic")
			}
		}
	}

	result, err := svc.Query(ctx, req)
	if err != nil {
		telemetry.FailSpan(span, err.Error())
		return result, err
	}
	if result != nil && !result.Success {
		telemetry.FailSpan(span, result.Error)
	}

	if e.semCache != nil && queryEmbedding != nil && result != nil && result.Success && result.Answer != "" {
		entry := &Chunk{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			RawText:   result.Answer,
			Embedding: queryEmbedding,
			CreatedAt: time.Now(),
		}
		if setErr := e.semCache.Set(ctx, entry); setErr != nil {
			e.logger.Warn("semantic cache store failed", zap.Error(setErr))
		}
	}

	return result, nil
}

// =============================================================================
// 跨模式运维操作
// =============================================================================

// Purge 删除某用户的全部持久数据 (块、图谱实体与关系).
// 返回删除的块数量.
func (e *Engine) Purge(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, types.Validation("user_id is required")
	}

	deleted, err := e.deps.Vector.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	if e.deps.Graph != nil {
		if err := e.deps.Graph.PurgeUser(ctx, userID); err != nil {
			// 图谱清理失败不回滚向量删除, 记录后继续
			e.logger.Warn("graph purge failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if e.semCache != nil {
		if err := e.semCache.Purge(ctx, userID); err != nil {
			e.logger.Warn("semantic cache purge failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	e.logger.Info("user data purged",
		zap.String("user_id", userID),
		zap.Int("chunks_deleted", deleted))

	return deleted, nil
}

// StoreBatch 以有界并发批量摄取.
// 返回与请求等长的结果切片; 单条失败不影响其他条目.
func (e *Engine) StoreBatch(ctx context.Context, reqs []*StoreRequest, concurrency int) ([]*StoreResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]*StoreResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Store(gctx, req)
			if err != nil {
				res = failedStore(err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
