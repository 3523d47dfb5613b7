// Package workflow runs ordered analysis nodes over the entities changed by
// a sync. Nodes declare the tags they provide and require; the engine
// rejects any ordering where a node would run before its inputs exist.
// Nodes never write to storage directly: they stage changes in a Batch the
// engine flushes once per run.
package workflow

import (
	"context"
	"fmt"

	"github.com/Mythidas/MSPByte-Remake-sub005/analysis/loadctx"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// RunContext is what one analysis run hands each node: the loaded world,
// the entities this sync changed, and the write batch.
type RunContext struct {
	Data    *loadctx.Context
	Changed []*types.Entity
	Batch   *Batch
}

// Node is one analysis step.
type Node interface {
	// Name identifies the node in logs and validation errors.
	Name() string
	// Provides lists the tags this node may set on entities.
	Provides() []string
	// Requires lists the tags this node reads; a node only runs after every
	// required tag's provider.
	Requires() []string
	// Run executes the node over the run context.
	Run(ctx context.Context, rc *RunContext) error
}

// FuncNode builds a Node from a function.
type FuncNode struct {
	NodeName     string
	NodeProvides []string
	NodeRequires []string
	RunFunc      func(ctx context.Context, rc *RunContext) error
}

// Name implements Node.
func (n *FuncNode) Name() string { return n.NodeName }

// Provides implements Node.
func (n *FuncNode) Provides() []string { return n.NodeProvides }

// Requires implements Node.
func (n *FuncNode) Requires() []string { return n.NodeRequires }

// Run implements Node.
func (n *FuncNode) Run(ctx context.Context, rc *RunContext) error {
	return n.RunFunc(ctx, rc)
}

// ValidateOrder checks that every node's requirements are provided by an
// earlier node. The check runs once at engine construction; a bad ordering
// is a wiring bug, not a runtime condition.
func ValidateOrder(nodes []Node) error {
	provided := make(map[string]struct{})
	for _, node := range nodes {
		for _, req := range node.Requires() {
			if _, ok := provided[req]; !ok {
				return errors.WrapInvalid(
					fmt.Errorf("node %q requires tag %q which no earlier node provides", node.Name(), req),
					"Engine", "ValidateOrder", "check node ordering")
			}
		}
		for _, tag := range node.Provides() {
			provided[tag] = struct{}{}
		}
	}
	return nil
}

// alertIntent is a staged alert transition.
type alertIntent struct {
	entityID string
	rule     string
	message  string
	raise    bool
}

// Batch accumulates the writes of one analysis run. Entity updates are
// keyed by ID, so a node updating the same entity twice costs one write;
// the whole batch flushes with a constant number of storage calls per
// distinct concern.
type Batch struct {
	updates map[string]*types.Entity
	order   []string
	alerts  []alertIntent
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{updates: make(map[string]*types.Entity)}
}

// UpdateEntity stages an entity write.
func (b *Batch) UpdateEntity(e *types.Entity) {
	if _, seen := b.updates[e.ID]; !seen {
		b.order = append(b.order, e.ID)
	}
	b.updates[e.ID] = e
}

// RaiseAlert stages an alert raise for (entity, rule).
func (b *Batch) RaiseAlert(entityID, rule, message string) {
	b.alerts = append(b.alerts, alertIntent{entityID: entityID, rule: rule, message: message, raise: true})
}

// ResolveAlert stages resolution of the open alert for (entity, rule), if
// one exists.
func (b *Batch) ResolveAlert(entityID, rule string) {
	b.alerts = append(b.alerts, alertIntent{entityID: entityID, rule: rule})
}

// Updates returns the staged entity writes in staging order.
func (b *Batch) Updates() []*types.Entity {
	out := make([]*types.Entity, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.updates[id])
	}
	return out
}

// Empty reports whether the batch has nothing to flush.
func (b *Batch) Empty() bool {
	return len(b.updates) == 0 && len(b.alerts) == 0
}
