package rag

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 🗄️ 知识图谱存储
// =============================================================================

// GraphStore 实体/关系图的存储契约, 所有操作按 user_id 隔离.
type GraphStore interface {
	// UpsertEntities 写入或更新实体, 同名同类型实体合并.
	UpsertEntities(ctx context.Context, entities []Entity) error

	// UpsertRelationships 写入关系, 两端实体必须已存在.
	UpsertRelationships(ctx context.Context, rels []Relationship) error

	// FindEntitiesByName 按名称匹配实体 (大小写不敏感).
	FindEntitiesByName(ctx context.Context, userID string, names []string) ([]Entity, error)

	// Neighbors 从种子实体出发做有界跳数遍历.
	Neighbors(ctx context.Context, userID string, seedIDs []string, maxHops int) ([]Entity, []Relationship, error)

	// PurgeUser 删除该用户的全部实体与关系.
	PurgeUser(ctx context.Context, userID string) error
}

// InMemoryGraphStore 进程内图存储, 邻接表双向索引.
type InMemoryGraphStore struct {
	mu       sync.RWMutex
	entities map[string]Entity         // entity ID -> entity
	byName   map[string]string         // userID+"\x00"+lower(name) -> entity ID
	outEdges map[string][]Relationship // source entity ID -> edges
	inEdges  map[string][]Relationship // target entity ID -> edges
}

// NewInMemoryGraphStore 创建空的进程内图存储.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		entities: make(map[string]Entity),
		byName:   make(map[string]string),
		outEdges: make(map[string][]Relationship),
		inEdges:  make(map[string][]Relationship),
	}
}

func nameKey(userID, name string) string {
	return userID + "\x00" + strings.ToLower(strings.TrimSpace(name))
}

func (g *InMemoryGraphStore) UpsertEntities(_ context.Context, entities []Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range entities {
		if e.UserID == "" {
			return types.Validation("entity user_id is empty")
		}
		if e.Name == "" {
			return types.Validation("entity name is empty")
		}
		key := nameKey(e.UserID, e.Name)
		if existingID, ok := g.byName[key]; ok {
			e.ID = existingID
		}
		g.entities[e.ID] = e
		g.byName[key] = e.ID
	}
	return nil
}

func (g *InMemoryGraphStore) UpsertRelationships(_ context.Context, rels []Relationship) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range rels {
		if _, ok := g.entities[r.SourceEntityID]; !ok {
			return types.Validation("relationship source entity %s not found", r.SourceEntityID)
		}
		if _, ok := g.entities[r.TargetEntityID]; !ok {
			return types.Validation("relationship target entity %s not found", r.TargetEntityID)
		}
		g.outEdges[r.SourceEntityID] = append(g.outEdges[r.SourceEntityID], r)
		g.inEdges[r.TargetEntityID] = append(g.inEdges[r.TargetEntityID], r)
	}
	return nil
}

func (g *InMemoryGraphStore) FindEntitiesByName(_ context.Context, userID string, names []string) ([]Entity, error) {
	if userID == "" {
		return nil, types.Validation("user_id is required for graph lookup")
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	found := make([]Entity, 0, len(names))
	for _, name := range names {
		if id, ok := g.byName[nameKey(userID, name)]; ok {
			found = append(found, g.entities[id])
		}
	}
	return found, nil
}

func (g *InMemoryGraphStore) Neighbors(_ context.Context, userID string, seedIDs []string, maxHops int) ([]Entity, []Relationship, error) {
	if userID == "" {
		return nil, nil, types.Validation("user_id is required for graph traversal")
	}
	if maxHops <= 0 {
		maxHops = 1
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool, len(seedIDs))
	seenEdge := make(map[string]bool)
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if e, ok := g.entities[id]; ok && e.UserID == userID {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}

	entities := make([]Entity, 0)
	rels := make([]Relationship, 0)
	for _, id := range frontier {
		entities = append(entities, g.entities[id])
	}

	// 广度优先, 每层一跳
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, edge := range g.outEdges[id] {
				if edge.UserID != userID {
					continue
				}
				if !seenEdge[edge.ID] {
					seenEdge[edge.ID] = true
					rels = append(rels, edge)
				}
				if !visited[edge.TargetEntityID] {
					visited[edge.TargetEntityID] = true
					entities = append(entities, g.entities[edge.TargetEntityID])
					next = append(next, edge.TargetEntityID)
				}
			}
			for _, edge := range g.inEdges[id] {
				if edge.UserID != userID {
					continue
				}
				if !seenEdge[edge.ID] {
					seenEdge[edge.ID] = true
					rels = append(rels, edge)
				}
				if !visited[edge.SourceEntityID] {
					visited[edge.SourceEntityID] = true
					entities = append(entities, g.entities[edge.SourceEntityID])
					next = append(next, edge.SourceEntityID)
				}
			}
		}
		frontier = next
	}
	return entities, rels, nil
}

func (g *InMemoryGraphStore) PurgeUser(_ context.Context, userID string) error {
	if userID == "" {
		return types.Validation("user_id is required for purge")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, e := range g.entities {
		if e.UserID != userID {
			continue
		}
		delete(g.entities, id)
		delete(g.byName, nameKey(userID, e.Name))
		delete(g.outEdges, id)
		delete(g.inEdges, id)
	}
	return nil
}
