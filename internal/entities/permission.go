package entities

import "time"

// WildcardPermission is the magic "all permissions" entry of the taxonomy
const WildcardPermission = "*"

// Permission names of the fixed taxonomy
const (
	PermVisit     = "visit"
	PermRead      = "read"
	PermWrite     = "write"
	PermDelete    = "delete"
	PermAdmin     = "admin"
	PermAdminAuth = "admin_auth"
	PermAdminRes  = "admin_res"
)

// PermissionNode represents one entry of the permission hierarchy
// Example: "write" with parent "read"
// Granting a permission implies its ancestors, denying it implies its descendants.
type PermissionNode struct {
	ID          int64
	Name        string // Unique across the whole forest
	ParentID    *int64 // nil for topmost permissions ("visit", "*")
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// Ref returns the object-reference form of the permission
func (p *PermissionNode) Ref() Ref {
	return ByID(p.ID)
}

// IsWildcard reports whether this is the "all permissions" entry
func (p *PermissionNode) IsWildcard() bool {
	return p.Name == WildcardPermission
}

// PermissionRef is an (id, name) pair as used in PermissionInfo
type PermissionRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PermissionInfo is the derived view of one permission
type PermissionInfo struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Parents  []PermissionRef `json:"parents"`  // Immediate parent first, topmost ancestor last
	Children []PermissionRef `json:"children"` // All transitive descendants, sorted by ID
}
