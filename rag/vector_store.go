package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// SearchQuery 向量检索查询.
// UserID 是强制作用域, 在查询层过滤, 杜绝跨用户泄漏.
type SearchQuery struct {
	Embedding []float64      `json:"embedding"`
	UserID    string         `json:"user_id"`
	TopK      int            `json:"top_k"`
	MinScore  float64        `json:"min_score,omitempty"`
	Filters   map[string]any `json:"filters,omitempty"`
}

// SearchHit 向量搜索命中.
type SearchHit struct {
	Chunk    *Chunk  `json:"chunk"`
	Score    float64 `json:"score"`
	Distance float64 `json:"distance"`
}

// VectorStore 向量数据库接口.
type VectorStore interface {
	// Upsert 写入块. 调用方保证每个块已带嵌入.
	Upsert(ctx context.Context, chunks []*Chunk) error

	// Search 按余弦相似度检索, 作用域与过滤在查询层强制执行.
	Search(ctx context.Context, q SearchQuery) ([]SearchHit, error)

	// Delete 按 ID 删除块.
	Delete(ctx context.Context, ids []string) error

	// DeleteByUser 删除某用户的全部块, 返回删除数量.
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// Count 返回块总数.
	Count(ctx context.Context) (int, error)
}

// =============================================================================
// 内存向量存储（用于测试和小规模应用）
// =============================================================================

// InMemoryVectorStore 内存向量存储.
type InMemoryVectorStore struct {
	chunks []*Chunk
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储.
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		chunks: make([]*Chunk, 0),
		logger: logger.With(zap.String("component", "vector_store")),
	}
}

// Upsert 写入块.
func (s *InMemoryVectorStore) Upsert(ctx context.Context, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return types.Validation("chunk %s has no embedding", c.ID)
		}
	}

	byID := make(map[string]int, len(s.chunks))
	for i, c := range s.chunks {
		byID[c.ID] = i
	}
	for _, c := range chunks {
		if i, ok := byID[c.ID]; ok {
			s.chunks[i] = c
		} else {
			s.chunks = append(s.chunks, c)
		}
	}

	s.logger.Debug("chunks upserted",
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks)))

	return nil
}

// Search 检索相似块.
func (s *InMemoryVectorStore) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	if q.UserID == "" {
		return nil, types.Validation("search requires a user_id scope")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]SearchHit, 0)
	for _, c := range s.chunks {
		// 用户作用域在查询层强制执行
		if c.UserID != q.UserID {
			continue
		}
		if !matchFilters(c.Metadata, q.Filters) {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}

		similarity := cosineSimilarity(q.Embedding, c.Embedding)
		if similarity < q.MinScore {
			continue
		}

		hits = append(hits, SearchHit{
			Chunk:    c,
			Score:    similarity,
			Distance: 1.0 - similarity,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	topK := q.TopK
	if topK <= 0 || topK > len(hits) {
		topK = len(hits)
	}

	return hits[:topK], nil
}

// Delete 按 ID 删除.
func (s *InMemoryVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	filtered := s.chunks[:0]
	for _, c := range s.chunks {
		if !idSet[c.ID] {
			filtered = append(filtered, c)
		}
	}
	s.chunks = filtered

	return nil
}

// DeleteByUser 删除某用户全部块.
func (s *InMemoryVectorStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]*Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.UserID != userID {
			filtered = append(filtered, c)
		}
	}

	deleted := len(s.chunks) - len(filtered)
	s.chunks = filtered

	s.logger.Info("user chunks purged",
		zap.String("user_id", userID),
		zap.Int("deleted", deleted))

	return deleted, nil
}

// Count 返回块总数.
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// matchFilters 检查块元数据是否满足全部过滤条件.
func matchFilters(metadata, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// cosineSimilarity 余弦相似度.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// =============================================================================
// 语义缓存
// =============================================================================

// SemanticCacheConfig 语义缓存配置.
type SemanticCacheConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold"` // 相似度阈值（0.9-0.95）
}

// SemanticCache 语义缓存（基于向量相似度的查询去重）.
// 近似重复的查询直接命中上次合成的答案.
type SemanticCache struct {
	store               VectorStore
	similarityThreshold float64
	logger              *zap.Logger
}

// NewSemanticCache 创建语义缓存.
func NewSemanticCache(store VectorStore, config SemanticCacheConfig, logger *zap.Logger) *SemanticCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.93
	}
	return &SemanticCache{
		store:               store,
		similarityThreshold: config.SimilarityThreshold,
		logger:              logger.With(zap.String("component", "semantic_cache")),
	}
}

// Get 查找相似度超过阈值的缓存条目.
func (c *SemanticCache) Get(ctx context.Context, userID string, queryEmbedding []float64) (*Chunk, bool) {
	hits, err := c.store.Search(ctx, SearchQuery{
		Embedding: queryEmbedding,
		UserID:    userID,
		TopK:      1,
	})
	if err != nil {
		c.logger.Warn("semantic cache search failed", zap.Error(err))
		return nil, false
	}
	if len(hits) == 0 {
		return nil, false
	}

	if hits[0].Score >= c.similarityThreshold {
		c.logger.Debug("semantic cache hit",
			zap.Float64("similarity", hits[0].Score))
		return hits[0].Chunk, true
	}

	return nil, false
}

// Set 写入缓存条目.
func (c *SemanticCache) Set(ctx context.Context, entry *Chunk) error {
	return c.store.Upsert(ctx, []*Chunk{entry})
}

// Purge 清空某用户的缓存.
func (c *SemanticCache) Purge(ctx context.Context, userID string) error {
	_, err := c.store.DeleteByUser(ctx, userID)
	return err
}
