package entities

import (
	"fmt"
	"strconv"
)

// Effect is the outcome of an ACL entry
type Effect int

const (
	Deny Effect = iota
	Allow
)

func (e Effect) String() string {
	if e == Allow {
		return "Allow"
	}
	return "Deny"
}

// ACLEntry is one (effect, principal, permission) triple of an expanded ACL
type ACLEntry struct {
	Effect     Effect `json:"effect"`
	Principal  string `json:"principal"`  // "u:<id>" or "g:<id>"
	Permission string `json:"permission"` // Empty when AllPermissions is set

	// AllPermissions marks the wildcard entry that matches every permission
	AllPermissions bool `json:"all_permissions,omitempty"`
}

// Matches reports whether the entry covers the permission
func (e ACLEntry) Matches(permission string) bool {
	return e.AllPermissions || e.Permission == permission
}

// PermissionLabel returns the permission name, "*" for the wildcard entry
func (e ACLEntry) PermissionLabel() string {
	if e.AllPermissions {
		return WildcardPermission
	}
	return e.Permission
}

func (e ACLEntry) String() string {
	return fmt.Sprintf("(%s, %s, %s)", e.Effect, e.Principal, e.PermissionLabel())
}

// UserKey returns the principal key of a user
func UserKey(id int64) string {
	return "u:" + strconv.FormatInt(id, 10)
}

// GroupKey returns the principal key of a group
func GroupKey(id int64) string {
	return "g:" + strconv.FormatInt(id, 10)
}

// Principal is a requesting identity at evaluation time
type Principal struct {
	UserID   int64   // 0 for an anonymous principal
	GroupIDs []int64 // Direct and transitive groups
}

// Keys returns the principal keys used to match ACL entries
func (p Principal) Keys() []string {
	keys := make([]string, 0, len(p.GroupIDs)+1)
	if p.UserID != 0 {
		keys = append(keys, UserKey(p.UserID))
	}
	for _, g := range p.GroupIDs {
		keys = append(keys, GroupKey(g))
	}
	return keys
}

// KeySet returns the principal keys as a set
func (p Principal) KeySet() map[string]struct{} {
	keys := p.Keys()
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
