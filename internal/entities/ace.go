package entities

import (
	"fmt"
	"sort"
	"time"
)

// Ace is an Access Control Entry: it grants or denies one permission to one
// principal (a user or a group) on one resource node.
// Example: allow group wheel "*" on root
type Ace struct {
	ID           int64
	ResourceID   int64
	UserID       *int64 // Exactly one of UserID and GroupID is set
	GroupID      *int64
	PermissionID int64
	Allow        bool
	SortIndex    int // Lower sorts first within the allow/deny group
	Description  string
	OwnerID      int64
	CreatedAt    time.Time
}

// Validate checks the principal invariant and mandatory references
func (a *Ace) Validate() error {
	hasUser, hasGroup := a.hasUser(), a.hasGroup()
	if !hasUser && !hasGroup {
		return &InvalidAceError{Reason: "ACE must reference either user or group"}
	}
	if hasUser && hasGroup {
		return &InvalidAceError{Reason: "ACE cannot reference user and group simultaneously"}
	}
	if a.PermissionID == 0 {
		return &InvalidAceError{Reason: "permission is required"}
	}
	if a.ResourceID == 0 {
		return &InvalidAceError{Reason: "resource is required"}
	}
	if a.OwnerID == 0 {
		return &InvalidAceError{Reason: "owner is required"}
	}
	return nil
}

// PrincipalKey returns "u:<id>" for user entries and "g:<id>" for group entries
func (a *Ace) PrincipalKey() string {
	if a.hasUser() {
		return UserKey(*a.UserID)
	}
	if a.hasGroup() {
		return GroupKey(*a.GroupID)
	}
	return ""
}

// A reference to ID 0 counts as unset
func (a *Ace) hasUser() bool  { return a.UserID != nil && *a.UserID != 0 }
func (a *Ace) hasGroup() bool { return a.GroupID != nil && *a.GroupID != 0 }

// Effect returns Allow or Deny
func (a *Ace) Effect() Effect {
	if a.Allow {
		return Allow
	}
	return Deny
}

func (a *Ace) String() string {
	return fmt.Sprintf("<Ace(id=%d, resource_id=%d, principal=%s, sortix=%d, permission_id=%d, allow=%t)>",
		a.ID, a.ResourceID, a.PrincipalKey(), a.SortIndex, a.PermissionID, a.Allow)
}

// SortACEs orders entries by (allow, sort index, id).
// Deny entries sort before allow entries; within each group the sort index
// decides and the ID keeps ties reproducible.
func SortACEs(aces []*Ace) {
	sort.SliceStable(aces, func(i, j int) bool {
		a, b := aces[i], aces[j]
		if a.Allow != b.Allow {
			return !a.Allow
		}
		if a.SortIndex != b.SortIndex {
			return a.SortIndex < b.SortIndex
		}
		return a.ID < b.ID
	})
}
