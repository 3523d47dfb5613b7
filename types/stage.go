// Package types defines the canonical data model shared by every stage of
// the sync pipeline: jobs, event envelopes, fetched records, normalized
// entities, relationships, alerts, and job metrics.
package types

// Stage identifies one step of the staged sync pipeline. Each stage only
// consumes the previous stage's output; the names double as bus topic
// segments.
type Stage string

// Pipeline stages in flow order.
const (
	StageSync      Stage = "sync"
	StageFetched   Stage = "fetched"
	StageProcessed Stage = "processed"
	StageLinked    Stage = "linked"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// IsValid reports whether the stage is one of the known pipeline stages.
func (s Stage) IsValid() bool {
	switch s {
	case StageSync, StageFetched, StageProcessed, StageLinked, StageCompleted, StageFailed:
		return true
	}
	return false
}

// EntityType identifies a canonical entity kind. Integrations map their
// vendor records onto these types.
type EntityType string

// Canonical entity types.
const (
	EntityIdentity EntityType = "identities"
	EntityGroup    EntityType = "groups"
	EntityRole     EntityType = "roles"
	EntityPolicy   EntityType = "policies"
	EntityDevice   EntityType = "devices"
	EntityCompany  EntityType = "companies"
	EntitySite     EntityType = "sites"
	EntityTicket   EntityType = "tickets"
)

// RelationshipType identifies the semantics of an edge between two entities.
type RelationshipType string

// Relationship types produced by the link stage.
const (
	RelMember       RelationshipType = "member"
	RelAssignedRole RelationshipType = "assigned_role"
	RelAppliesTo    RelationshipType = "applies_to"
	RelChildSite    RelationshipType = "child_site"
	RelOwnedBy      RelationshipType = "owned_by"
)
