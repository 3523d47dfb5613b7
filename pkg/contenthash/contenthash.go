// Package contenthash computes deterministic digests over the stable fields
// of raw vendor records. The digest is the unit of change detection for the
// normalize stage: records whose hash matches the stored entity are dropped
// before normalization.
//
// The set of fields excluded from the hash is an explicit, versioned
// deny-list per (integrationType, entityType). Schema evolution that changes
// a list must bump its version, so dedup behavior never changes silently.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultDenyList strips the volatile fields most vendor APIs churn on every
// poll. Applied when no list is registered for a record's type.
var DefaultDenyList = DenyList{
	Version: 1,
	Fields: []string{
		"last_seen",
		"last_login",
		"last_activity",
		"seen_count",
		"fetched_at",
		"updated_at",
	},
}

// DenyList names the volatile fields stripped before hashing, with a version
// stamp that becomes part of the digest input.
type DenyList struct {
	Version int
	Fields  []string
}

func (d DenyList) fieldSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		set[f] = struct{}{}
	}
	return set
}

// Hasher resolves deny-lists by (integrationType, entityType) and computes
// record hashes. Registration happens once at startup; Hash is safe for
// concurrent use.
type Hasher struct {
	mu    sync.RWMutex
	lists map[string]DenyList
}

// NewHasher creates a Hasher with only the default deny-list.
func NewHasher() *Hasher {
	return &Hasher{lists: make(map[string]DenyList)}
}

// Register installs a deny-list for an (integrationType, entityType) pair,
// replacing any previous registration.
func (h *Hasher) Register(integrationType, entityType string, list DenyList) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lists[key(integrationType, entityType)] = list
}

// listFor returns the registered deny-list or the default.
func (h *Hasher) listFor(integrationType, entityType string) DenyList {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if list, ok := h.lists[key(integrationType, entityType)]; ok {
		return list
	}
	return DefaultDenyList
}

// Hash computes the SHA-256 digest of the record's stable fields. Equal
// stable-field content always yields an equal hash: the canonical form is
// encoding/json of a map, which sorts keys deterministically.
func (h *Hasher) Hash(integrationType, entityType string, raw map[string]any) (string, error) {
	list := h.listFor(integrationType, entityType)
	deny := list.fieldSet()

	stable := make(map[string]any, len(raw))
	for k, v := range raw {
		if _, volatile := deny[k]; volatile {
			continue
		}
		stable[k] = v
	}

	canonical, err := json.Marshal(stable)
	if err != nil {
		return "", fmt.Errorf("contenthash: canonicalize record: %w", err)
	}

	sum := sha256.New()
	// The list version is part of the digest input so a deny-list change
	// forces a full re-normalization rather than a silent behavior shift.
	fmt.Fprintf(sum, "v%d:", list.Version)
	sum.Write(canonical)
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func key(integrationType, entityType string) string {
	return integrationType + "/" + entityType
}
