package workflow

import (
	"context"
	"fmt"

	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Analysis tags and alert rules produced by the built-in nodes.
const (
	TagAdmin       = "admin"
	TagMFAEnforced = "mfa_enforced"

	RuleAdminWithoutMFA = "admin_without_mfa"
)

// AdminTagger tags identities that hold an admin role, either through an
// assigned_role edge to a role entity marked is_admin or through membership
// in a group marked is_admin.
func AdminTagger() Node {
	return &FuncNode{
		NodeName:     "tag-admin",
		NodeProvides: []string{TagAdmin},
		RunFunc: func(_ context.Context, rc *RunContext) error {
			for _, e := range rc.Changed {
				if e.EntityType != types.EntityIdentity {
					continue
				}
				if !isAdmin(rc, e) {
					continue
				}
				if e.AddTag(TagAdmin) {
					rc.Batch.UpdateEntity(e)
				}
			}
			return nil
		},
	}
}

func isAdmin(rc *RunContext, e *types.Entity) bool {
	for _, role := range rc.Data.Targets(e.ID, types.RelAssignedRole) {
		if flagged(role) {
			return true
		}
	}
	for _, group := range rc.Data.Targets(e.ID, types.RelMember) {
		if flagged(group) {
			return true
		}
	}
	return false
}

func flagged(e *types.Entity) bool {
	v, _ := e.NormalizedData["is_admin"].(bool)
	return v
}

// MFAEnforcementEvaluator raises admin_without_mfa for admin identities
// whose MFA is not enforced, and resolves the alert once it is. It runs
// after the admin tagger: requiring the tag here is what makes a reversed
// node ordering fail validation instead of silently evaluating stale data.
func MFAEnforcementEvaluator() Node {
	return &FuncNode{
		NodeName:     "evaluate-enforcement",
		NodeRequires: []string{TagAdmin},
		RunFunc: func(_ context.Context, rc *RunContext) error {
			for _, e := range rc.Changed {
				if e.EntityType != types.EntityIdentity || !e.HasTag(TagAdmin) {
					continue
				}
				if mfaEnforced(e) {
					if e.AddTag(TagMFAEnforced) {
						rc.Batch.UpdateEntity(e)
					}
					rc.Batch.ResolveAlert(e.ID, RuleAdminWithoutMFA)
					continue
				}
				rc.Batch.RaiseAlert(e.ID, RuleAdminWithoutMFA,
					fmt.Sprintf("admin account %s has no MFA enforcement", e.ExternalID))
			}
			return nil
		},
	}
}

func mfaEnforced(e *types.Entity) bool {
	v, _ := e.NormalizedData["mfa_enabled"].(bool)
	return v
}
