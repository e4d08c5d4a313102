package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/ragflow/types"
)

// raptorStrategy 层次化摘要树检索 (RAPTOR).
// 摄取时在叶子块之上做嵌入聚类, 每簇由 LLM 摘要为上层节点,
// 递归直到层数上限或节点数低于聚类阈值. 树构建在暂存区完成,
// 整树替换发布, 检索方永远看不到半成品树.
// 检索时先在摘要层命中再下钻到叶子层取细节.
type raptorStrategy struct {
	*baseStrategy
	clusterThreshold int
	maxLevels        int
	levelsSearched   int

	mu    sync.RWMutex
	trees map[string]*raptorTree // userID -> published tree

	buildMu sync.Mutex
	builds  map[string]*sync.Mutex // userID -> 构建锁
}

// raptorTree 单用户的摘要树. levels[0] 是叶子层.
type raptorTree struct {
	levels [][]*TreeNode
	nodes  map[string]*TreeNode
	chunks map[string]*Chunk // 叶子节点 ID -> 原始块
}

// NewRaptorStrategy 创建 raptor 模式策略.
func NewRaptorStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	clusterThreshold := deps.Config.RaptorClusterThreshold
	if clusterThreshold <= 0 {
		clusterThreshold = 6
	}
	maxLevels := deps.Config.RaptorMaxLevels
	if maxLevels <= 0 {
		maxLevels = 3
	}
	levelsSearched := deps.Config.RaptorLevelsSearched
	if levelsSearched <= 0 {
		levelsSearched = 2
	}
	return &raptorStrategy{
		baseStrategy:     newBaseStrategy(ModeRaptor, deps),
		clusterThreshold: clusterThreshold,
		maxLevels:        maxLevels,
		levelsSearched:   levelsSearched,
		trees:            make(map[string]*raptorTree),
		builds:           make(map[string]*sync.Mutex),
	}, nil
}

// =============================================================================
// 摄取与树构建
// =============================================================================

func (s *raptorStrategy) Store(ctx context.Context, req *StoreRequest) (*StoreResult, error) {
	start := time.Now()

	if req.UserID == "" {
		return failedStore(types.Validation("user_id is required")), nil
	}

	chunks, err := s.pipeline.Ingest(ctx, req)
	if err != nil {
		s.recordIngest("error", 0, start)
		return failedStore(err), nil
	}

	// 同一用户的读取-构建-发布串行执行,
	// 并发 Store 不会以旧叶子集各自建树后互相覆盖
	build := s.userBuildLock(req.UserID)
	build.Lock()

	// 已发布叶子 + 新块, 在暂存区重建整树
	leaves, leafChunks := s.collectLeaves(req.UserID, chunks)
	staging, buildDegraded := s.buildTree(ctx, req.UserID, leaves, leafChunks)

	// 原子发布: 整树替换
	s.mu.Lock()
	s.trees[req.UserID] = staging
	s.mu.Unlock()
	build.Unlock()

	if buildDegraded {
		s.recordDegradation("tree_summarization")
	}

	s.recordIngest("success", len(chunks), start)
	return &StoreResult{
		Success:         true,
		ChunksProcessed: len(chunks),
		ModeMetadata: map[string]any{
			"rag_mode":    string(s.mode),
			"tree_levels": len(staging.levels),
			"tree_nodes":  len(staging.nodes),
			"tree_built":  len(staging.levels) > 1,
		},
	}, nil
}

// userBuildLock 返回某用户的树构建锁.
func (s *raptorStrategy) userBuildLock(userID string) *sync.Mutex {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	lock, ok := s.builds[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.builds[userID] = lock
	}
	return lock
}

// collectLeaves 合并已有叶子与新摄取块, 生成新树的叶子层.
func (s *raptorStrategy) collectLeaves(userID string, newChunks []*Chunk) ([]*TreeNode, map[string]*Chunk) {
	leafChunks := make(map[string]*Chunk)

	s.mu.RLock()
	if existing, ok := s.trees[userID]; ok {
		for id, c := range existing.chunks {
			leafChunks[id] = c
		}
	}
	s.mu.RUnlock()

	for _, c := range newChunks {
		leafChunks[c.ID] = c
	}

	leaves := make([]*TreeNode, 0, len(leafChunks))
	for id, c := range leafChunks {
		leaves = append(leaves, &TreeNode{
			ID:          id,
			UserID:      userID,
			Level:       0,
			LevelKind:   LevelLeaf,
			SummaryText: c.RawText,
			Embedding:   c.Embedding,
			CreatedAt:   c.CreatedAt,
		})
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].ID < leaves[j].ID })
	return leaves, leafChunks
}

// buildTree 自底向上聚类摘要. 返回是否发生了摘要降级.
func (s *raptorStrategy) buildTree(ctx context.Context, userID string, leaves []*TreeNode, leafChunks map[string]*Chunk) (*raptorTree, bool) {
	tree := &raptorTree{
		levels: [][]*TreeNode{leaves},
		nodes:  make(map[string]*TreeNode, len(leaves)),
		chunks: leafChunks,
	}
	for _, n := range leaves {
		tree.nodes[n.ID] = n
	}

	degraded := false
	current := leaves
	for level := 1; level < s.maxLevels; level++ {
		// 节点数低于阈值时停止聚类, 树保持单层或现有层数
		if len(current) < s.clusterThreshold {
			break
		}

		clusters := clusterByEmbedding(current, s.clusterThreshold)
		next := make([]*TreeNode, 0, len(clusters))
		for _, cluster := range clusters {
			node, err := s.summarizeCluster(ctx, userID, level, cluster)
			if err != nil {
				s.logger.Warn("簇摘要失败, 停止向上构建")
				degraded = true
				next = nil
				break
			}
			next = append(next, node)
		}
		if len(next) == 0 {
			break
		}

		tree.levels = append(tree.levels, next)
		for _, n := range next {
			tree.nodes[n.ID] = n
		}
		current = next
	}

	// 最高层标记为根层
	if len(tree.levels) > 1 {
		for _, n := range tree.levels[len(tree.levels)-1] {
			n.LevelKind = LevelRoot
		}
	}
	return tree, degraded
}

// clusterByEmbedding 贪心相似度聚类, 簇大小上限为阈值.
func clusterByEmbedding(nodes []*TreeNode, maxClusterSize int) [][]*TreeNode {
	clusters := make([][]*TreeNode, 0)
	centroids := make([][]float64, 0)

	for _, node := range nodes {
		best := -1
		bestScore := 0.0
		for i, centroid := range centroids {
			if len(clusters[i]) >= maxClusterSize {
				continue
			}
			score := cosineSimilarity(node.Embedding, centroid)
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best >= 0 && bestScore >= 0.5 {
			clusters[best] = append(clusters[best], node)
			centroids[best] = meanVector(centroids[best], node.Embedding, len(clusters[best]))
			continue
		}
		clusters = append(clusters, []*TreeNode{node})
		centroids = append(centroids, append([]float64(nil), node.Embedding...))
	}
	return clusters
}

// meanVector 增量更新簇质心.
func meanVector(centroid, added []float64, newSize int) []float64 {
	if len(centroid) != len(added) || newSize <= 0 {
		return centroid
	}
	out := make([]float64, len(centroid))
	prev := float64(newSize - 1)
	for i := range centroid {
		out[i] = (centroid[i]*prev + added[i]) / float64(newSize)
	}
	return out
}

// summarizeCluster 用 LLM 摘要一个簇并嵌入摘要文本.
func (s *raptorStrategy) summarizeCluster(ctx context.Context, userID string, level int, cluster []*TreeNode) (*TreeNode, error) {
	parts := make([]string, len(cluster))
	childIDs := make([]string, len(cluster))
	for i, n := range cluster {
		parts[i] = n.SummaryText
		childIDs[i] = n.ID
	}

	prompt := fmt.Sprintf(`Summarize the following passages into a single cohesive paragraph.
Preserve the key facts, names, and numbers. Do not add information.

Passages:
%s

Summary:`, strings.Join(parts, "\n---\n"))

	summary, err := s.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("empty cluster summary")
	}

	vec, err := s.embedQuery(ctx, summary)
	if err != nil {
		return nil, err
	}

	return &TreeNode{
		ID:          uuid.NewString(),
		UserID:      userID,
		Level:       level,
		LevelKind:   LevelSummary,
		SummaryText: summary,
		Embedding:   vec,
		ChildIDs:    childIDs,
		ClusterID:   uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// =============================================================================
// 两级检索
// =============================================================================

func (s *raptorStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	if req.UserID == "" {
		s.recordQuery("error", 0, start)
		return failedRetrieve(types.Validation("user_id is required")), nil
	}

	s.mu.RLock()
	tree := s.trees[req.UserID]
	s.mu.RUnlock()

	// 无树或单层树: 降级为普通向量检索
	if tree == nil || len(tree.levels) <= 1 {
		items, errRes := s.retrieveByQueryText(ctx, req, req.Query)
		if errRes != nil {
			s.recordQuery("error", 0, start)
			return errRes, nil
		}
		s.recordDegradation("tree_search")
		s.recordQuery("success", len(items), start)
		return &RetrieveResult{
			Items:        items,
			TotalResults: len(items),
			Metadata: map[string]any{
				"search_method":        "vector_similarity",
				"rag_mode":             string(s.mode),
				"tree_levels_searched": 1,
				"summary_matches":      0,
				"detail_matches":       len(items),
			},
		}, nil
	}

	vec, err := s.embedQuery(ctx, req.Query)
	if err != nil {
		s.recordQuery("error", 0, start)
		return failedRetrieve(err), nil
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.deps.Config.TopK
	}
	if topK <= 0 {
		topK = 5
	}

	// 第一级: 摘要层命中
	summaryLevel := tree.levels[len(tree.levels)-1]
	summaryHits := rankNodes(summaryLevel, vec, topK)

	// 第二级: 下钻到命中摘要的叶子后代, 过滤条件在叶子层生效
	candidateLeaves := make([]*TreeNode, 0)
	seen := make(map[string]bool)
	for _, hit := range summaryHits {
		for _, leaf := range descendantLeaves(tree, hit.node) {
			if seen[leaf.ID] {
				continue
			}
			seen[leaf.ID] = true
			if chunk, ok := tree.chunks[leaf.ID]; ok && !matchFilters(chunk.Metadata, req.Filters) {
				continue
			}
			candidateLeaves = append(candidateLeaves, leaf)
		}
	}
	detailHits := rankNodes(candidateLeaves, vec, topK)

	minScore := s.deps.Config.MinScore
	items := make([]RetrievalItem, 0, len(detailHits))
	for _, hit := range detailHits {
		chunk, ok := tree.chunks[hit.node.ID]
		if !ok || hit.score < minScore {
			continue
		}
		items = append(items, RetrievalItem{
			Chunk:           chunk,
			SimilarityScore: hit.score,
			Rank:            len(items) + 1,
		})
	}

	levelsSearched := s.levelsSearched
	if levelsSearched > len(tree.levels) {
		levelsSearched = len(tree.levels)
	}

	s.recordQuery("success", len(items), start)
	return &RetrieveResult{
		Items:        items,
		TotalResults: len(items),
		Metadata: map[string]any{
			"search_method":        "raptor_tree",
			"rag_mode":             string(s.mode),
			"tree_levels_searched": levelsSearched,
			"summary_matches":      len(summaryHits),
			"detail_matches":       len(items),
		},
	}, nil
}

type nodeHit struct {
	node  *TreeNode
	score float64
}

// rankNodes 按余弦相似度排序取前 k 个节点.
func rankNodes(nodes []*TreeNode, queryVec []float64, k int) []nodeHit {
	hits := make([]nodeHit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, nodeHit{node: n, score: cosineSimilarity(queryVec, n.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// descendantLeaves 收集节点的全部叶子后代.
func descendantLeaves(tree *raptorTree, node *TreeNode) []*TreeNode {
	if node.LevelKind == LevelLeaf {
		return []*TreeNode{node}
	}
	leaves := make([]*TreeNode, 0)
	for _, childID := range node.ChildIDs {
		child, ok := tree.nodes[childID]
		if !ok {
			continue
		}
		leaves = append(leaves, descendantLeaves(tree, child)...)
	}
	return leaves
}

func (s *raptorStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
