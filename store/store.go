// Package store provides the narrow document-store contract every pipeline
// stage reads and writes through, plus typed repositories for the canonical
// record types. Two implementations exist: Memory for tests and Postgres
// for production.
//
// Every operation is scoped by tenantID; tenant isolation is enforced here,
// never by physical partitioning of the bus or queue.
package store

import (
	"context"
	"encoding/json"
)

// Collection names for the canonical record types.
const (
	ColEntities      = "entities"
	ColRelationships = "relationships"
	ColAlerts        = "alerts"
	ColAlertAudits   = "alert_audits"
	ColJobHistory    = "job_history"
)

// Filter is an equality filter over top-level document fields.
type Filter map[string]string

// Document pairs an ID with a JSON body.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Store is the document-store contract. Implementations must treat writes
// of the same ID as last-write-wins and must exclude soft-deleted documents
// from Get and Find results.
type Store interface {
	Get(ctx context.Context, tenantID, collection, id string) (*Document, error)
	Find(ctx context.Context, tenantID, collection string, filter Filter) ([]Document, error)
	Insert(ctx context.Context, tenantID, collection string, docs []Document) error
	Update(ctx context.Context, tenantID, collection string, docs []Document) error
	SoftDelete(ctx context.Context, tenantID, collection string, ids []string) error
	HealthCheck(ctx context.Context) error
}

func marshalDoc(id string, v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Body: body}, nil
}
