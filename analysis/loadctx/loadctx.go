// Package loadctx assembles the full analysis context for one
// (tenant, data source) pair: every live entity of the configured types
// plus the tenant's relationship edges, indexed for constant-time
// traversal. The load issues a fixed number of queries regardless of how
// many entities exist, so analysis cost never degrades into per-entity
// lookups.
package loadctx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Context is the in-memory world analysis nodes operate on. It is built
// once per analysis run; nodes read from it freely and stage their writes
// in a batch instead of going back to storage.
type Context struct {
	TenantID     string
	DataSourceID string

	byType map[types.EntityType][]*types.Entity
	byID   map[string]*types.Entity

	relationships []*types.Relationship
	bySource      map[string][]*types.Relationship
	byTarget      map[string][]*types.Relationship
}

// Entity returns an entity by ID, or nil.
func (c *Context) Entity(id string) *types.Entity {
	return c.byID[id]
}

// OfType returns all loaded entities of one type.
func (c *Context) OfType(et types.EntityType) []*types.Entity {
	return c.byType[et]
}

// Targets returns the entities the source points at through edges of the
// given type. Pass an empty type to traverse all edge types.
func (c *Context) Targets(sourceID string, relType types.RelationshipType) []*types.Entity {
	return c.traverse(c.bySource[sourceID], relType, func(r *types.Relationship) string {
		return r.TargetEntityID
	})
}

// Sources returns the entities pointing at the target through edges of the
// given type.
func (c *Context) Sources(targetID string, relType types.RelationshipType) []*types.Entity {
	return c.traverse(c.byTarget[targetID], relType, func(r *types.Relationship) string {
		return r.SourceEntityID
	})
}

func (c *Context) traverse(edges []*types.Relationship, relType types.RelationshipType,
	side func(*types.Relationship) string) []*types.Entity {
	var out []*types.Entity
	for _, rel := range edges {
		if relType != "" && rel.Type != relType {
			continue
		}
		if e, ok := c.byID[side(rel)]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Relationships returns every loaded edge.
func (c *Context) Relationships() []*types.Relationship {
	return c.relationships
}

// Stats describes the most recent Load. Queries stays constant regardless
// of how many entities the tenant holds.
type Stats struct {
	Queries       int
	Duration      time.Duration
	Entities      int
	Relationships int
}

// Loader loads analysis contexts.
type Loader struct {
	entities      *store.Entities
	relationships *store.Relationships
	entityTypes   []types.EntityType

	mu   sync.Mutex
	last Stats
}

// NewLoader creates a loader that fetches the given entity types. The query
// count per Load is len(entityTypes)+1.
func NewLoader(entities *store.Entities, relationships *store.Relationships, entityTypes []types.EntityType) *Loader {
	return &Loader{
		entities:      entities,
		relationships: relationships,
		entityTypes:   entityTypes,
	}
}

// Load bulk-fetches all entity types and relationships in parallel and
// assembles the indexed context.
func (l *Loader) Load(ctx context.Context, tenantID, dataSourceID string) (*Context, error) {
	start := time.Now()
	results := make([][]*types.Entity, len(l.entityTypes))
	var rels []*types.Relationship

	g, gctx := errgroup.WithContext(ctx)
	for i, et := range l.entityTypes {
		g.Go(func() error {
			entities, err := l.entities.FindByDataSource(gctx, tenantID, dataSourceID, et)
			if err != nil {
				return err
			}
			results[i] = entities
			return nil
		})
	}
	g.Go(func() error {
		loaded, err := l.relationships.FindByTenant(gctx, tenantID, "")
		if err != nil {
			return err
		}
		rels = loaded
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Context{
		TenantID:      tenantID,
		DataSourceID:  dataSourceID,
		byType:        make(map[types.EntityType][]*types.Entity, len(l.entityTypes)),
		byID:          make(map[string]*types.Entity),
		relationships: rels,
		bySource:      make(map[string][]*types.Relationship),
		byTarget:      make(map[string][]*types.Relationship),
	}
	for i, et := range l.entityTypes {
		c.byType[et] = results[i]
		for _, e := range results[i] {
			c.byID[e.ID] = e
		}
	}
	for _, rel := range rels {
		c.bySource[rel.SourceEntityID] = append(c.bySource[rel.SourceEntityID], rel)
		c.byTarget[rel.TargetEntityID] = append(c.byTarget[rel.TargetEntityID], rel)
	}

	l.mu.Lock()
	l.last = Stats{
		Queries:       len(l.entityTypes) + 1,
		Duration:      time.Since(start),
		Entities:      len(c.byID),
		Relationships: len(rels),
	}
	l.mu.Unlock()
	return c, nil
}

// Stats returns the measurements of the most recent Load.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
