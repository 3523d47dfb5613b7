package store

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Entities is the typed repository for normalized entities.
type Entities struct {
	store Store
}

// NewEntities creates an entity repository over the given store.
func NewEntities(s Store) *Entities {
	return &Entities{store: s}
}

// FindByIntegration bulk-loads all live entities for
// (tenantID, integrationType, entityType). The normalize stage diffs
// incoming records against this set.
func (r *Entities) FindByIntegration(ctx context.Context, tenantID, integrationType string, et types.EntityType) ([]*types.Entity, error) {
	return r.find(ctx, tenantID, Filter{
		"integration_type": integrationType,
		"entity_type":      string(et),
	})
}

// FindByDataSource bulk-loads all live entities of one type for
// (tenantID, dataSourceID). The context loader issues one of these per
// entity type.
func (r *Entities) FindByDataSource(ctx context.Context, tenantID, dataSourceID string, et types.EntityType) ([]*types.Entity, error) {
	return r.find(ctx, tenantID, Filter{
		"data_source_id": dataSourceID,
		"entity_type":    string(et),
	})
}

func (r *Entities) find(ctx context.Context, tenantID string, filter Filter) ([]*types.Entity, error) {
	docs, err := r.store.Find(ctx, tenantID, ColEntities, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(docs))
	for _, doc := range docs {
		var e types.Entity
		if err := json.Unmarshal(doc.Body, &e); err != nil {
			return nil, errors.WrapInvalid(err, "Entities", "find", "decode entity")
		}
		out = append(out, &e)
	}
	return out, nil
}

// Insert persists new entities.
func (r *Entities) Insert(ctx context.Context, tenantID string, entities []*types.Entity) error {
	return r.write(ctx, tenantID, entities, r.store.Insert)
}

// Update persists changed entities.
func (r *Entities) Update(ctx context.Context, tenantID string, entities []*types.Entity) error {
	return r.write(ctx, tenantID, entities, r.store.Update)
}

func (r *Entities) write(ctx context.Context, tenantID string, entities []*types.Entity,
	op func(context.Context, string, string, []Document) error) error {
	if len(entities) == 0 {
		return nil
	}
	docs := make([]Document, 0, len(entities))
	for _, e := range entities {
		doc, err := marshalDoc(e.ID, e)
		if err != nil {
			return errors.WrapInvalid(err, "Entities", "write", "encode entity")
		}
		docs = append(docs, doc)
	}
	return op(ctx, tenantID, ColEntities, docs)
}

// SoftDelete marks entities deleted.
func (r *Entities) SoftDelete(ctx context.Context, tenantID string, ids []string) error {
	return r.store.SoftDelete(ctx, tenantID, ColEntities, ids)
}

// Relationships is the typed repository for entity relationship edges.
type Relationships struct {
	store Store
}

// NewRelationships creates a relationship repository.
func NewRelationships(s Store) *Relationships {
	return &Relationships{store: s}
}

// RelationshipID derives a deterministic ID from the natural key, making
// repeated upserts of the same (source, target, type) triple no-ops.
func RelationshipID(rel *types.Relationship) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(rel.UniqueKey())).String()
}

// Upsert inserts relationships idempotently and returns how many were new.
func (r *Relationships) Upsert(ctx context.Context, tenantID string, rels []*types.Relationship) (int, error) {
	inserted := 0
	for _, rel := range rels {
		rel.ID = RelationshipID(rel)
		doc, err := marshalDoc(rel.ID, rel)
		if err != nil {
			return inserted, errors.WrapInvalid(err, "Relationships", "Upsert", "encode relationship")
		}
		err = r.store.Insert(ctx, tenantID, ColRelationships, []Document{doc})
		if stderrors.Is(err, errors.ErrDuplicateKey) {
			continue
		}
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// FindByTenant bulk-loads all relationships for a tenant, optionally
// filtered by relationship type.
func (r *Relationships) FindByTenant(ctx context.Context, tenantID string, relType types.RelationshipType) ([]*types.Relationship, error) {
	filter := Filter{}
	if relType != "" {
		filter["relationship_type"] = string(relType)
	}
	docs, err := r.store.Find(ctx, tenantID, ColRelationships, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Relationship, 0, len(docs))
	for _, doc := range docs {
		var rel types.Relationship
		if err := json.Unmarshal(doc.Body, &rel); err != nil {
			return nil, errors.WrapInvalid(err, "Relationships", "FindByTenant", "decode relationship")
		}
		out = append(out, &rel)
	}
	return out, nil
}

// Alerts is the typed repository for alerts and their audit trail.
type Alerts struct {
	store Store
}

// NewAlerts creates an alert repository.
func NewAlerts(s Store) *Alerts {
	return &Alerts{store: s}
}

// Get returns one alert.
func (r *Alerts) Get(ctx context.Context, tenantID, alertID string) (*types.Alert, error) {
	doc, err := r.store.Get(ctx, tenantID, ColAlerts, alertID)
	if err != nil {
		return nil, err
	}
	var a types.Alert
	if err := json.Unmarshal(doc.Body, &a); err != nil {
		return nil, errors.WrapInvalid(err, "Alerts", "Get", "decode alert")
	}
	return &a, nil
}

// FindByEntityAndRule returns the alerts raised by one rule against one
// entity. The analysis engine uses this to avoid duplicate alerts.
func (r *Alerts) FindByEntityAndRule(ctx context.Context, tenantID, entityID, rule string) ([]*types.Alert, error) {
	docs, err := r.store.Find(ctx, tenantID, ColAlerts, Filter{
		"entity_id": entityID,
		"rule":      rule,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Alert, 0, len(docs))
	for _, doc := range docs {
		var a types.Alert
		if err := json.Unmarshal(doc.Body, &a); err != nil {
			return nil, errors.WrapInvalid(err, "Alerts", "FindByEntityAndRule", "decode alert")
		}
		out = append(out, &a)
	}
	return out, nil
}

// Insert persists a new alert.
func (r *Alerts) Insert(ctx context.Context, alert *types.Alert) error {
	doc, err := marshalDoc(alert.ID, alert)
	if err != nil {
		return errors.WrapInvalid(err, "Alerts", "Insert", "encode alert")
	}
	return r.store.Insert(ctx, alert.TenantID, ColAlerts, []Document{doc})
}

// Update persists an alert status change.
func (r *Alerts) Update(ctx context.Context, alert *types.Alert) error {
	doc, err := marshalDoc(alert.ID, alert)
	if err != nil {
		return errors.WrapInvalid(err, "Alerts", "Update", "encode alert")
	}
	return r.store.Update(ctx, alert.TenantID, ColAlerts, []Document{doc})
}

// InsertAudit appends one audit record for an alert transition.
func (r *Alerts) InsertAudit(ctx context.Context, audit *types.AlertAudit) error {
	doc, err := marshalDoc(audit.ID, audit)
	if err != nil {
		return errors.WrapInvalid(err, "Alerts", "InsertAudit", "encode audit record")
	}
	return r.store.Insert(ctx, audit.TenantID, ColAlertAudits, []Document{doc})
}

// FindAudits returns the audit trail of one alert.
func (r *Alerts) FindAudits(ctx context.Context, tenantID, alertID string) ([]*types.AlertAudit, error) {
	docs, err := r.store.Find(ctx, tenantID, ColAlertAudits, Filter{"alert_id": alertID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.AlertAudit, 0, len(docs))
	for _, doc := range docs {
		var a types.AlertAudit
		if err := json.Unmarshal(doc.Body, &a); err != nil {
			return nil, errors.WrapInvalid(err, "Alerts", "FindAudits", "decode audit record")
		}
		out = append(out, &a)
	}
	return out, nil
}

// History is the typed repository for persisted job outcomes.
type History struct {
	store Store
}

// NewHistory creates a job history repository.
func NewHistory(s Store) *History {
	return &History{store: s}
}

// Insert persists one job outcome.
func (r *History) Insert(ctx context.Context, h *types.JobHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	doc, err := marshalDoc(h.ID, h)
	if err != nil {
		return errors.WrapInvalid(err, "History", "Insert", "encode job history")
	}
	return r.store.Insert(ctx, h.TenantID, ColJobHistory, []Document{doc})
}

// FindByJob returns the history records for one job.
func (r *History) FindByJob(ctx context.Context, tenantID, jobID string) ([]*types.JobHistory, error) {
	docs, err := r.store.Find(ctx, tenantID, ColJobHistory, Filter{"job_id": jobID})
	if err != nil {
		return nil, err
	}
	out := make([]*types.JobHistory, 0, len(docs))
	for _, doc := range docs {
		var h types.JobHistory
		if err := json.Unmarshal(doc.Body, &h); err != nil {
			return nil, errors.WrapInvalid(err, "History", "FindByJob", "decode job history")
		}
		out = append(out, &h)
	}
	return out, nil
}
