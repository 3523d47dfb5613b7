// Package connector defines the contract between the sync pipeline and
// vendor APIs. A connector knows how to talk to one integration: it reports
// its health, enumerates the entity types it can fetch, and returns raw
// vendor records one page at a time. Everything downstream of the connector
// (hashing, normalization, linking) is vendor-agnostic.
package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Record is one raw vendor object. The connector extracts the vendor's
// identifier and (when the vendor scopes objects to a site) the site
// identifier; Data is the untouched vendor payload.
type Record struct {
	ExternalID string
	SiteID     string
	Data       map[string]any
}

// PageRequest asks a connector for one page of records.
type PageRequest struct {
	TenantID     string
	DataSourceID string
	EntityType   types.EntityType
	PageSize     int
	// Cursor is the opaque continuation token from the previous page, empty
	// for the first page. Its format is owned by the connector.
	Cursor string
}

// Page is one page of fetched records. Total is the vendor-reported total
// when known, otherwise the running count.
type Page struct {
	Records    []Record
	Total      int
	NextCursor string
	HasMore    bool
}

// Connector is implemented once per integration.
type Connector interface {
	// Type returns the integration type identifier, e.g. "microsoft-365".
	Type() string

	// SupportedEntityTypes lists what this connector can fetch.
	SupportedEntityTypes() []types.EntityType

	// CheckHealth verifies credentials and vendor reachability. A sync job
	// is not dispatched to an unhealthy connector; the job retries later.
	CheckHealth(ctx context.Context) error

	// Fetch returns one page of raw records. Unsupported entity types
	// return errors.ErrUnsupportedEntityType wrapped invalid.
	Fetch(ctx context.Context, req PageRequest) (*Page, error)
}

// Registry resolves connectors by integration type. All registration
// happens during startup wiring; lookups afterward are read-only.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds a connector, rejecting duplicate integration types.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := c.Type()
	if t == "" {
		return errors.WrapInvalid(
			fmt.Errorf("connector has empty integration type"),
			"Registry", "Register", "validate connector")
	}
	if _, exists := r.connectors[t]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("connector %q already registered", t),
			"Registry", "Register", "check duplicate registration")
	}
	r.connectors[t] = c
	return nil
}

// Get resolves a connector or fails invalid for unknown integrations.
func (r *Registry) Get(integrationType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[integrationType]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no connector registered for integration %q", integrationType),
			"Registry", "Get", "resolve connector")
	}
	return c, nil
}

// Types lists registered integration types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.connectors))
	for t := range r.connectors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether the connector can fetch the entity type.
func Supports(c Connector, entityType types.EntityType) bool {
	for _, et := range c.SupportedEntityTypes() {
		if et == entityType {
			return true
		}
	}
	return false
}
