package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// graphStrategy 知识图谱增强检索 (GraphRAG).
// 摄取时抽取实体与关系写入图存储, 检索时从查询实体出发
// 做有界跳数遍历, 用图邻域对向量命中加权重排.
// 图存储缺失或任一图阶段失败时无条件回退普通向量检索.
type graphStrategy struct {
	*baseStrategy
	maxHops int
}

// NewGraphStrategy 创建 graph 模式策略.
func NewGraphStrategy(deps Deps) (Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	maxHops := deps.Config.GraphMaxHops
	if maxHops <= 0 {
		maxHops = 2
	}
	return &graphStrategy{
		baseStrategy: newBaseStrategy(ModeGraph, deps),
		maxHops:      maxHops,
	}, nil
}

// =============================================================================
// 实体与关系抽取
// =============================================================================

var (
	entityLine = regexp.MustCompile(`(?m)^ENTITY:\s*(.+?)\s*\|\s*(\S+)\s*$`)
	relLine    = regexp.MustCompile(`(?m)^REL:\s*(.+?)\s*->\s*(.+?)\s*\|\s*(.+?)\s*$`)

	// 回退抽取: 连续的首字母大写词组
	properNoun = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\b`)
)

// extractGraph 用 LLM 抽取实体和关系, LLM 失败时回退正则抽取实体.
func (s *graphStrategy) extractGraph(ctx context.Context, userID, text string) ([]Entity, []Relationship, error) {
	prompt := fmt.Sprintf(`Extract the named entities and the relationships between them from the text below.

Output format, one item per line:
ENTITY: <name> | <type>
REL: <source name> -> <target name> | <relationship label>

Entity types: person, organization, concept, technology, location, other.
Only include relationships whose both endpoints appear as entities.

Text:
%s`, text)

	raw, err := s.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		// 回退: 正则抽取专有名词, 无关系
		entities := s.extractEntitiesByRegex(userID, text)
		if len(entities) == 0 {
			return nil, nil, err
		}
		s.recordDegradation("entity_extraction")
		return entities, nil, nil
	}

	idByName := make(map[string]string)
	entities := make([]Entity, 0)
	for _, m := range entityLine.FindAllStringSubmatch(raw, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := idByName[key]; ok {
			continue
		}
		id := uuid.NewString()
		idByName[key] = id
		entities = append(entities, Entity{
			ID:        id,
			UserID:    userID,
			Name:      name,
			Type:      strings.ToLower(strings.TrimSpace(m[2])),
			CreatedAt: time.Now().UTC(),
		})
	}

	rels := make([]Relationship, 0)
	for _, m := range relLine.FindAllStringSubmatch(raw, -1) {
		sourceID, okS := idByName[strings.ToLower(strings.TrimSpace(m[1]))]
		targetID, okT := idByName[strings.ToLower(strings.TrimSpace(m[2]))]
		if !okS || !okT || sourceID == targetID {
			continue
		}
		rels = append(rels, Relationship{
			ID:             uuid.NewString(),
			UserID:         userID,
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			Label:          strings.TrimSpace(m[3]),
			Confidence:     0.8,
		})
	}
	return entities, rels, nil
}

func (s *graphStrategy) extractEntitiesByRegex(userID, text string) []Entity {
	seen := make(map[string]bool)
	entities := make([]Entity, 0)
	for _, name := range properNoun.FindAllString(text, -1) {
		key := strings.ToLower(name)
		if seen[key] || len(name) < 3 {
			continue
		}
		seen[key] = true
		entities = append(entities, Entity{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      name,
			Type:      "other",
			CreatedAt: time.Now().UTC(),
		})
	}
	return entities
}

// =============================================================================
// 操作实现
// =============================================================================

func (s *graphStrategy) Store(ctx context.Context, req *StoreRequest) (*StoreResult, error) {
	result, err := s.baseStrategy.Store(ctx, req)
	if err != nil || !result.Success {
		return result, err
	}
	if result.ModeMetadata == nil {
		result.ModeMetadata = make(map[string]any)
	}

	if s.deps.Graph == nil {
		result.ModeMetadata["graph_processing_used"] = false
		return result, nil
	}

	entities, rels, extractErr := s.extractGraph(ctx, req.UserID, req.Content)
	if extractErr != nil {
		s.logger.Warn("图抽取失败, 仅保留向量索引")
		s.recordDegradation("graph_extraction")
		result.ModeMetadata["graph_processing_used"] = false
		return result, nil
	}

	if err := s.deps.Graph.UpsertEntities(ctx, entities); err != nil {
		s.recordDegradation("graph_store")
		result.ModeMetadata["graph_processing_used"] = false
		return result, nil
	}
	if err := s.deps.Graph.UpsertRelationships(ctx, rels); err != nil {
		s.recordDegradation("graph_store")
		result.ModeMetadata["graph_processing_used"] = false
		result.ModeMetadata["entities_extracted"] = len(entities)
		return result, nil
	}

	result.ModeMetadata["graph_processing_used"] = true
	result.ModeMetadata["entities_extracted"] = len(entities)
	result.ModeMetadata["relationships_extracted"] = len(rels)
	return result, nil
}

func (s *graphStrategy) Retrieve(ctx context.Context, req *RetrieveRequest) (*RetrieveResult, error) {
	start := time.Now()

	items, errRes := s.retrieveByQueryText(ctx, req, req.Query)
	if errRes != nil {
		s.recordQuery("error", 0, start)
		return errRes, nil
	}

	metadata := map[string]any{
		"search_method":  "vector_similarity",
		"rag_mode":       string(s.mode),
		"graph_rag_used": false,
	}

	neighborNames := s.queryNeighborhood(ctx, req.UserID, req.Query, metadata)
	if len(neighborNames) > 0 {
		items = boostByEntityMentions(items, neighborNames)
		metadata["graph_rag_used"] = true
		metadata["search_method"] = "graph_boosted_vector"
	}

	s.recordQuery("success", len(items), start)
	return &RetrieveResult{
		Items:        items,
		TotalResults: len(items),
		Metadata:     metadata,
	}, nil
}

// queryNeighborhood 解析查询中的实体并收集其图邻域名称.
// 任何一步失败都返回空集, 由调用方回退纯向量结果.
func (s *graphStrategy) queryNeighborhood(ctx context.Context, userID, query string, metadata map[string]any) []string {
	if s.deps.Graph == nil {
		return nil
	}

	candidates := properNoun.FindAllString(query, -1)
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, ".,?!\"'")
		if len(w) > 3 {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	seeds, err := s.deps.Graph.FindEntitiesByName(ctx, userID, candidates)
	if err != nil || len(seeds) == 0 {
		if err != nil {
			s.recordDegradation("graph_lookup")
		}
		return nil
	}

	seedIDs := make([]string, len(seeds))
	for i, e := range seeds {
		seedIDs[i] = e.ID
	}
	entities, rels, err := s.deps.Graph.Neighbors(ctx, userID, seedIDs, s.maxHops)
	if err != nil {
		s.recordDegradation("graph_traversal")
		return nil
	}

	metadata["entities_matched"] = len(seeds)
	metadata["graph_neighbors"] = len(entities)
	metadata["graph_relationships"] = len(rels)
	metadata["graph_hops"] = s.maxHops

	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, strings.ToLower(e.Name))
	}
	return names
}

// boostByEntityMentions 按图邻域实体在文本中的出现次数加权重排.
func boostByEntityMentions(items []RetrievalItem, neighborNames []string) []RetrievalItem {
	for i := range items {
		if items[i].Chunk == nil {
			continue
		}
		text := strings.ToLower(items[i].Chunk.RawText)
		mentions := 0
		for _, name := range neighborNames {
			if strings.Contains(text, name) {
				mentions++
			}
		}
		// 向量相似度为主, 图证据为辅
		items[i].FusedScore = items[i].SimilarityScore + 0.1*float64(mentions)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].FusedScore > items[j].FusedScore
	})
	for i := range items {
		items[i].Rank = i + 1
	}
	return items
}

func (s *graphStrategy) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	result, err := s.baseStrategy.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	if req.RetrievalResult != nil {
		if v, ok := req.RetrievalResult.Metadata["graph_rag_used"]; ok {
			result.Metadata["graph_rag_used"] = v
		} else {
			result.Metadata["graph_rag_used"] = false
		}
	} else if _, ok := result.Metadata["graph_rag_used"]; !ok {
		result.Metadata["graph_rag_used"] = false
	}
	return result, nil
}

func (s *graphStrategy) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	return composeQuery(ctx, s, req)
}
