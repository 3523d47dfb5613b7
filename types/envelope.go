package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for every pipeline event. It is immutable
// once published. TraceID is stable across all events of one logical sync;
// ParentEventID points at the event (or job) that caused this one, giving a
// traceable lineage without relying on bus delivery order.
type Envelope struct {
	EventID         string          `json:"event_id"`
	ParentEventID   string          `json:"parent_event_id,omitempty"`
	TraceID         string          `json:"trace_id"`
	TenantID        string          `json:"tenant_id"`
	IntegrationType string          `json:"integration_type"`
	EntityType      EntityType      `json:"entity_type"`
	DataSourceID    string          `json:"data_source_id,omitempty"`
	Stage           Stage           `json:"stage"`
	CreatedAt       time.Time       `json:"created_at"`
	Payload         json.RawMessage `json:"payload"`
}

// NewEnvelope creates an envelope for the given stage with a fresh event ID.
// The payload is marshalled immediately so the envelope is self-contained.
func NewEnvelope(stage Stage, tenantID, integrationType string, entityType EntityType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope payload marshal: %w", err)
	}
	return &Envelope{
		EventID:         uuid.New().String(),
		TraceID:         uuid.New().String(),
		TenantID:        tenantID,
		IntegrationType: integrationType,
		EntityType:      entityType,
		Stage:           stage,
		CreatedAt:       time.Now().UTC(),
		Payload:         data,
	}, nil
}

// Child creates an envelope for the next stage, threading trace lineage:
// the child keeps the parent's TraceID and records the parent's EventID.
func (e *Envelope) Child(stage Stage, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope payload marshal: %w", err)
	}
	return &Envelope{
		EventID:         uuid.New().String(),
		ParentEventID:   e.EventID,
		TraceID:         e.TraceID,
		TenantID:        e.TenantID,
		IntegrationType: e.IntegrationType,
		EntityType:      e.EntityType,
		DataSourceID:    e.DataSourceID,
		Stage:           stage,
		CreatedAt:       time.Now().UTC(),
		Payload:         data,
	}, nil
}

// Topic returns the bus topic this envelope is published on. Sync-stage
// events are scoped to the integration that must fetch them,
// {integrationType}.sync.{entityType}; every later stage fans out on
// {stage}.{entityType}.
func (e *Envelope) Topic() string {
	if e.Stage == StageSync {
		return fmt.Sprintf("%s.%s.%s", e.IntegrationType, e.Stage, e.EntityType)
	}
	return fmt.Sprintf("%s.%s", e.Stage, e.EntityType)
}

// Validate checks required envelope fields.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("envelope missing event_id")
	}
	if e.TenantID == "" {
		return fmt.Errorf("envelope missing tenant_id")
	}
	if !e.Stage.IsValid() {
		return fmt.Errorf("envelope has invalid stage %q", e.Stage)
	}
	return nil
}

// DecodePayload unmarshals the payload into v.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("envelope payload decode: %w", err)
	}
	return nil
}

// DataFetchRecord is one raw vendor record produced by the fetch stage.
// DataHash is a digest over the record's stable fields only, so vendor-side
// metadata churn does not trigger spurious updates downstream.
type DataFetchRecord struct {
	ExternalID string         `json:"external_id"`
	SiteID     string         `json:"site_id,omitempty"`
	DataHash   string         `json:"data_hash"`
	RawData    map[string]any `json:"raw_data"`
}

// FetchedPayload is the payload of a `fetched` event. HasMore/NextPageToken
// stream large result sets across multiple events sharing one SyncID.
type FetchedPayload struct {
	SyncID        string            `json:"sync_id"`
	Records       []DataFetchRecord `json:"records"`
	Total         int               `json:"total"`
	HasMore       bool              `json:"has_more,omitempty"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

// ProcessedPayload is the payload of a `processed` event. It carries only
// the identifiers of entities that actually changed; unchanged records are
// dropped from propagation.
type ProcessedPayload struct {
	SyncID             string   `json:"sync_id"`
	ChangedExternalIDs []string `json:"changed_external_ids"`
	EntityIDs          []string `json:"entity_ids"`
}

// LinkedPayload is the payload of a `linked` event: the entity IDs whose
// relationships changed.
type LinkedPayload struct {
	SyncID    string   `json:"sync_id"`
	EntityIDs []string `json:"entity_ids"`
}
