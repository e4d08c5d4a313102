package rag

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/internal/database"
	"github.com/BaSui01/ragflow/types"
)

// entityRecord 实体表模型.
type entityRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"index:idx_entity_user;size:64;not null"`
	Name      string `gorm:"index:idx_entity_name;size:256;not null"`
	NameLower string `gorm:"index:idx_entity_name_lower;size:256;not null"`
	Type      string `gorm:"size:64"`
	CreatedAt time.Time
}

func (entityRecord) TableName() string { return "graph_entities" }

// relationshipRecord 关系表模型.
type relationshipRecord struct {
	ID             string  `gorm:"primaryKey;size:64"`
	UserID         string  `gorm:"index:idx_rel_user;size:64;not null"`
	SourceEntityID string  `gorm:"index:idx_rel_source;size:64;not null"`
	TargetEntityID string  `gorm:"index:idx_rel_target;size:64;not null"`
	Label          string  `gorm:"size:128"`
	Confidence     float64 `gorm:"default:0"`
	CreatedAt      time.Time
}

func (relationshipRecord) TableName() string { return "graph_relationships" }

// GormGraphStore 关系型数据库图存储, 写入走事务保证原子可见.
type GormGraphStore struct {
	pool *database.PoolManager
}

// NewGormGraphStore 建表并返回存储实例.
func NewGormGraphStore(pool *database.PoolManager) (*GormGraphStore, error) {
	if pool == nil {
		return nil, types.Validation("database pool is required")
	}
	if err := pool.DB().AutoMigrate(&entityRecord{}, &relationshipRecord{}); err != nil {
		return nil, types.DependencyUnavailable("database", err)
	}
	return &GormGraphStore{pool: pool}, nil
}

func (g *GormGraphStore) UpsertEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	err := g.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		for _, e := range entities {
			if e.UserID == "" || e.Name == "" {
				return types.Validation("entity user_id and name are required")
			}
			record := entityRecord{
				ID:        e.ID,
				UserID:    e.UserID,
				Name:      e.Name,
				NameLower: strings.ToLower(strings.TrimSpace(e.Name)),
				Type:      e.Type,
				CreatedAt: e.CreatedAt,
			}

			// 同名实体合并: 复用已有 ID
			var existing entityRecord
			found := tx.Where("user_id = ? AND name_lower = ?", e.UserID, record.NameLower).
				First(&existing).Error
			if found == nil {
				record.ID = existing.ID
			}
			if err := tx.Save(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if types.CodeOf(err) != types.ErrInternal {
			return err
		}
		return types.DependencyUnavailable("database", err)
	}
	return nil
}

func (g *GormGraphStore) UpsertRelationships(ctx context.Context, rels []Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	err := g.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		for _, r := range rels {
			var count int64
			tx.Model(&entityRecord{}).
				Where("id IN ?", []string{r.SourceEntityID, r.TargetEntityID}).
				Count(&count)
			if count < 2 {
				return types.Validation("relationship endpoints must exist: %s -> %s", r.SourceEntityID, r.TargetEntityID)
			}
			record := relationshipRecord{
				ID:             r.ID,
				UserID:         r.UserID,
				SourceEntityID: r.SourceEntityID,
				TargetEntityID: r.TargetEntityID,
				Label:          r.Label,
				Confidence:     r.Confidence,
			}
			if err := tx.Save(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if types.CodeOf(err) != types.ErrInternal {
			return err
		}
		return types.DependencyUnavailable("database", err)
	}
	return nil
}

func (g *GormGraphStore) FindEntitiesByName(ctx context.Context, userID string, names []string) ([]Entity, error) {
	if userID == "" {
		return nil, types.Validation("user_id is required for graph lookup")
	}
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(n)))
	}

	var records []entityRecord
	err := g.pool.DB().WithContext(ctx).
		Where("user_id = ? AND name_lower IN ?", userID, lowered).
		Find(&records).Error
	if err != nil {
		return nil, types.DependencyUnavailable("database", err)
	}
	return toEntities(records), nil
}

func (g *GormGraphStore) Neighbors(ctx context.Context, userID string, seedIDs []string, maxHops int) ([]Entity, []Relationship, error) {
	if userID == "" {
		return nil, nil, types.Validation("user_id is required for graph traversal")
	}
	if maxHops <= 0 {
		maxHops = 1
	}

	db := g.pool.DB().WithContext(ctx)

	visited := make(map[string]bool, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	var seeds []entityRecord
	if err := db.Where("user_id = ? AND id IN ?", userID, seedIDs).Find(&seeds).Error; err != nil {
		return nil, nil, types.DependencyUnavailable("database", err)
	}
	entities := toEntities(seeds)
	for _, s := range seeds {
		visited[s.ID] = true
		frontier = append(frontier, s.ID)
	}

	seenEdge := make(map[string]bool)
	rels := make([]Relationship, 0)

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var edges []relationshipRecord
		err := db.Where("user_id = ? AND (source_entity_id IN ? OR target_entity_id IN ?)",
			userID, frontier, frontier).Find(&edges).Error
		if err != nil {
			return nil, nil, types.DependencyUnavailable("database", err)
		}

		nextIDs := make([]string, 0)
		for _, edge := range edges {
			if !seenEdge[edge.ID] {
				seenEdge[edge.ID] = true
				rels = append(rels, Relationship{
					ID:             edge.ID,
					UserID:         edge.UserID,
					SourceEntityID: edge.SourceEntityID,
					TargetEntityID: edge.TargetEntityID,
					Label:          edge.Label,
					Confidence:     edge.Confidence,
				})
			}
			for _, id := range []string{edge.SourceEntityID, edge.TargetEntityID} {
				if !visited[id] {
					visited[id] = true
					nextIDs = append(nextIDs, id)
				}
			}
		}

		if len(nextIDs) > 0 {
			var discovered []entityRecord
			if err := db.Where("user_id = ? AND id IN ?", userID, nextIDs).Find(&discovered).Error; err != nil {
				return nil, nil, types.DependencyUnavailable("database", err)
			}
			entities = append(entities, toEntities(discovered)...)
		}
		frontier = nextIDs
	}
	return entities, rels, nil
}

func (g *GormGraphStore) PurgeUser(ctx context.Context, userID string) error {
	if userID == "" {
		return types.Validation("user_id is required for purge")
	}
	err := g.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&relationshipRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&entityRecord{}).Error
	})
	if err != nil {
		return types.DependencyUnavailable("database", err)
	}
	return nil
}

func toEntities(records []entityRecord) []Entity {
	entities := make([]Entity, 0, len(records))
	for _, r := range records {
		entities = append(entities, Entity{
			ID:        r.ID,
			UserID:    r.UserID,
			Name:      r.Name,
			Type:      r.Type,
			CreatedAt: r.CreatedAt,
		})
	}
	return entities
}
