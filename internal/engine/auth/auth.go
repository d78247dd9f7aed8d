// Package auth decides what a caller may do: type-level and instance-level
// capability checks plus per-field visibility filters. The engine consults
// it before every create, update and read projection; it never reaches into
// request state itself, the caller's principal is passed in explicitly.
package auth

import (
	"fmt"

	"caseline/internal/schema"
)

// Principal identifies the caller of an operation.
type Principal struct {
	ID       string
	UserType string
	Roles    []string
}

// ForbiddenError indicates an authorization denial. Reason distinguishes a
// missing general permission from denial on a specific referenced resource
// and from an admin-field update without privilege.
type ForbiddenError struct {
	Action   string
	Resource string
	Reason   string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("forbidden: %s", e.Reason)
	}
	return fmt.Sprintf("forbidden: %s on %s not permitted", e.Action, e.Resource)
}

// FieldFilter reports whether one attribute may cross the serialization
// boundary for the caller it was built for.
type FieldFilter func(schema.Attribute) bool

// Authorizer is the capability-check and field-filter provider consumed by
// the lifecycle engine.
type Authorizer interface {
	// IsAllowed is the coarse, type-level permission check.
	IsAllowed(p Principal, action, resource string) bool
	// IsAllowedForInstance checks action against one concrete entity,
	// identified by its type and creator.
	IsAllowedForInstance(p Principal, action, resource, createdBy string) bool
	// FieldFilter returns the per-attribute visibility predicate applied
	// wherever entities of resource are projected for p.
	FieldFilter(p Principal, action, resource string) FieldFilter
}

// RoleAuthorizer grants permissions through role membership. Permission
// strings are "<resource>.<action>", e.g. "record.update"; admin-restricted
// attributes additionally require "<resource>.<action>-admin".
type RoleAuthorizer struct {
	perms map[string]map[string]bool // role -> permission set
}

// NewRoleAuthorizer builds an authorizer from role -> permissions pairs.
func NewRoleAuthorizer(rolePerms map[string][]string) *RoleAuthorizer {
	perms := make(map[string]map[string]bool, len(rolePerms))
	for role, list := range rolePerms {
		set := make(map[string]bool, len(list))
		for _, p := range list {
			set[p] = true
		}
		perms[role] = set
	}
	return &RoleAuthorizer{perms: perms}
}

func (a *RoleAuthorizer) IsAllowed(p Principal, action, resource string) bool {
	want := resource + "." + action
	for _, role := range p.Roles {
		if a.perms[role][want] {
			return true
		}
	}
	return false
}

// IsAllowedForInstance grants either via a type-level permission or, for the
// caller's own entities, via creatorship.
func (a *RoleAuthorizer) IsAllowedForInstance(p Principal, action, resource, createdBy string) bool {
	if a.IsAllowed(p, action, resource) {
		return true
	}
	return createdBy != "" && createdBy == p.ID
}

func (a *RoleAuthorizer) FieldFilter(p Principal, action, resource string) FieldFilter {
	adminOK := a.IsAllowed(p, action+"-admin", resource)
	return func(attr schema.Attribute) bool {
		return !attr.Admin() || adminOK
	}
}
