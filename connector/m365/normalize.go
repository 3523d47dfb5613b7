package m365

import (
	"fmt"

	"github.com/Mythidas/MSPByte-Remake-sub005/linker"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/contenthash"
	"github.com/Mythidas/MSPByte-Remake-sub005/processor"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// adminRoleTemplates are the directory role templates treated as admin
// roles: Global Administrator, Privileged Role Administrator, Security
// Administrator.
var adminRoleTemplates = map[string]bool{
	"62e90394-69f5-4237-9190-012177145e10": true,
	"e8611ab8-c189-46e8-94e1-60213ab1f814": true,
	"194ae4cb-b126-40b2-bd5b-6091b380977d": true,
}

// denyList strips the Graph fields that churn without the directory object
// actually changing.
var denyList = contenthash.DenyList{
	Version: 1,
	Fields: []string{
		"signInActivity",
		"refreshTokensValidFromDateTime",
		"@odata.etag",
	},
}

// RegisterHashing installs this connector's deny-lists on the hasher.
func RegisterHashing(h *contenthash.Hasher) {
	for _, et := range []types.EntityType{types.EntityIdentity, types.EntityGroup, types.EntityRole} {
		h.Register(IntegrationType, string(et), denyList)
	}
}

// RegisterNormalizers installs the Graph-to-canonical field mappings.
func RegisterNormalizers(p *processor.Processor) {
	p.RegisterNormalizer(IntegrationType, types.EntityIdentity, processor.NormalizerFunc(normalizeUser))
	p.RegisterNormalizer(IntegrationType, types.EntityGroup, processor.NormalizerFunc(normalizeGroup))
	p.RegisterNormalizer(IntegrationType, types.EntityRole, processor.NormalizerFunc(normalizeRole))
}

// RegisterLinkRules installs the relationship extraction rules. Group and
// role membership arrive on the user object when fetched with $expand.
func RegisterLinkRules(l *linker.Linker) {
	l.Register(IntegrationType, types.EntityIdentity, linker.Rule{
		TargetType: types.EntityGroup,
		RelType:    types.RelMember,
		Refs:       linker.StringRefs("member_of"),
	})
	l.Register(IntegrationType, types.EntityIdentity, linker.Rule{
		TargetType: types.EntityRole,
		RelType:    types.RelAssignedRole,
		Refs:       linker.StringRefs("roles"),
	})
}

func normalizeUser(raw map[string]any) (map[string]any, error) {
	upn, _ := raw["userPrincipalName"].(string)
	if upn == "" {
		return nil, fmt.Errorf("user record missing userPrincipalName")
	}
	enabled, _ := raw["accountEnabled"].(bool)
	out := map[string]any{
		"name":    stringOr(raw, "displayName", upn),
		"upn":     upn,
		"email":   stringOr(raw, "mail", ""),
		"enabled": enabled,
	}
	copyRefs(raw, out, "memberOf", "member_of")
	copyRefs(raw, out, "transitiveMemberOf", "roles")
	return out, nil
}

func normalizeGroup(raw map[string]any) (map[string]any, error) {
	name, _ := raw["displayName"].(string)
	if name == "" {
		return nil, fmt.Errorf("group record missing displayName")
	}
	security, _ := raw["securityEnabled"].(bool)
	return map[string]any{
		"name":             name,
		"security_enabled": security,
	}, nil
}

func normalizeRole(raw map[string]any) (map[string]any, error) {
	name, _ := raw["displayName"].(string)
	if name == "" {
		return nil, fmt.Errorf("role record missing displayName")
	}
	template, _ := raw["roleTemplateId"].(string)
	return map[string]any{
		"name":     name,
		"template": template,
		"is_admin": adminRoleTemplates[template],
	}, nil
}

func stringOr(raw map[string]any, key, fallback string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// copyRefs lifts the IDs out of an expanded Graph reference collection.
func copyRefs(raw, out map[string]any, from, to string) {
	items, ok := raw[from].([]any)
	if !ok {
		return
	}
	var ids []string
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			if id, ok := obj["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) > 0 {
		out[to] = ids
	}
}
