package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
)

// Memory is an in-process Store for tests. It counts read operations so
// tests can assert that bulk loaders issue a constant number of queries.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]map[string]json.RawMessage // tenant/collection -> id -> body
	deleted map[string]map[string]bool
	reads   atomic.Int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string]map[string]json.RawMessage),
		deleted: make(map[string]map[string]bool),
	}
}

func scope(tenantID, collection string) string {
	return tenantID + "/" + collection
}

// Reads returns the number of Get/Find calls issued so far.
func (m *Memory) Reads() int64 {
	return m.reads.Load()
}

// Get returns the document or errors.ErrNotFound.
func (m *Memory) Get(_ context.Context, tenantID, collection, id string) (*Document, error) {
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := scope(tenantID, collection)
	body, ok := m.data[s][id]
	if !ok || m.deleted[s][id] {
		return nil, errors.ErrNotFound
	}
	return &Document{ID: id, Body: body}, nil
}

// Find returns all documents whose top-level fields match the filter.
func (m *Memory) Find(_ context.Context, tenantID, collection string, filter Filter) ([]Document, error) {
	m.reads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := scope(tenantID, collection)
	var out []Document
	for id, body := range m.data[s] {
		if m.deleted[s][id] {
			continue
		}
		if matches(body, filter) {
			out = append(out, Document{ID: id, Body: body})
		}
	}
	return out, nil
}

func matches(body json.RawMessage, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	for k, want := range filter {
		got, ok := fields[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

// Insert adds documents, rejecting duplicate IDs.
func (m *Memory) Insert(_ context.Context, tenantID, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := scope(tenantID, collection)
	if m.data[s] == nil {
		m.data[s] = make(map[string]json.RawMessage)
	}
	for _, doc := range docs {
		if _, exists := m.data[s][doc.ID]; exists && !m.deleted[s][doc.ID] {
			return errors.ErrDuplicateKey
		}
	}
	for _, doc := range docs {
		m.data[s][doc.ID] = doc.Body
		delete(m.deleted[s], doc.ID)
	}
	return nil
}

// Update replaces document bodies. Missing IDs error.
func (m *Memory) Update(_ context.Context, tenantID, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := scope(tenantID, collection)
	for _, doc := range docs {
		if _, exists := m.data[s][doc.ID]; !exists {
			return errors.ErrNotFound
		}
	}
	for _, doc := range docs {
		m.data[s][doc.ID] = doc.Body
	}
	return nil
}

// SoftDelete marks documents deleted; they stop appearing in reads but are
// never removed.
func (m *Memory) SoftDelete(_ context.Context, tenantID, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := scope(tenantID, collection)
	if m.deleted[s] == nil {
		m.deleted[s] = make(map[string]bool)
	}
	for _, id := range ids {
		m.deleted[s][id] = true
	}
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (m *Memory) HealthCheck(_ context.Context) error {
	return nil
}
