package types

import (
	"fmt"
	"time"
)

// Entity is a normalized, persisted record. Uniqueness invariant:
// (TenantID, IntegrationType, DataSourceID, EntityType, ExternalID) is
// unique. Entities are created by the normalize stage; Tags and State are
// mutated later by the analysis engine; entities are soft-deleted, never
// hard-deleted by the pipeline.
type Entity struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	IntegrationType string         `json:"integration_type"`
	DataSourceID    string         `json:"data_source_id"`
	EntityType      EntityType     `json:"entity_type"`
	ExternalID      string         `json:"external_id"`
	DataHash        string         `json:"data_hash"`
	SiteID          string         `json:"site_id,omitempty"`
	NormalizedData  map[string]any `json:"normalized_data"`
	RawData         map[string]any `json:"raw_data"`
	Tags            []string       `json:"tags,omitempty"`
	State           map[string]any `json:"state,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
}

// UniqueKey returns the natural key enforcing the uniqueness invariant.
func (e *Entity) UniqueKey() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", e.TenantID, e.IntegrationType, e.DataSourceID, e.EntityType, e.ExternalID)
}

// HasTag reports whether the entity carries the given analysis tag.
func (e *Entity) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present and reports whether the tag
// set changed.
func (e *Entity) AddTag(tag string) bool {
	if e.HasTag(tag) {
		return false
	}
	e.Tags = append(e.Tags, tag)
	return true
}

// Relationship is an edge between two normalized entities. The triple
// (SourceEntityID, TargetEntityID, Type) is unique; repeated upserts of the
// same triple are no-ops.
type Relationship struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	SourceEntityType EntityType       `json:"source_entity_type"`
	SourceEntityID   string           `json:"source_entity_id"`
	TargetEntityType EntityType       `json:"target_entity_type"`
	TargetEntityID   string           `json:"target_entity_id"`
	Type             RelationshipType `json:"relationship_type"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// UniqueKey returns the natural key for idempotent upserts.
func (r *Relationship) UniqueKey() string {
	return fmt.Sprintf("%s/%s/%s/%s", r.TenantID, r.SourceEntityID, r.TargetEntityID, r.Type)
}
