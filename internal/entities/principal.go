package entities

import (
	"fmt"
	"time"
)

// Well known principals created by the bootstrap
const (
	SystemUID      int64 = 1
	RootUID        int64 = 2
	NobodyUID      int64 = 3
	UnitTesterUID  int64 = 4
	EveryoneRID    int64 = 1
	SystemRID      int64 = 2
	WheelRID       int64 = 3
	UsersRID       int64 = 4
	UnitTestersRID int64 = 5
)

// User is a user account. Principal is the unique login name
type User struct {
	ID          int64
	Principal   string
	Email       string
	DisplayName string
	IsEnabled   bool
	OwnerID     int64
	CreatedAt   time.Time
}

// Ref returns the object-reference form of the user
func (u *User) Ref() Ref {
	return ByID(u.ID)
}

func (u *User) String() string {
	return fmt.Sprintf("<User(id=%d, principal='%s', email='%s')>", u.ID, u.Principal, u.Email)
}

// Group groups users or other groups
type Group struct {
	ID          int64
	TenantID    *int64 // Optional owning tenant
	Name        string // Unique within a tenant
	Kind        string
	Description string
	OwnerID     int64
	CreatedAt   time.Time
}

// Ref returns the object-reference form of the group
func (g *Group) Ref() Ref {
	return ByID(g.ID)
}

func (g *Group) String() string {
	return fmt.Sprintf("<Group(id=%d, name='%s')>", g.ID, g.Name)
}

// GroupMember puts either a user or another group into a group
type GroupMember struct {
	ID            int64
	GroupID       int64
	MemberUserID  *int64
	MemberGroupID *int64
	OwnerID       int64
}

// Validate checks that exactly one member is referenced
func (m *GroupMember) Validate() error {
	if m.MemberUserID == nil && m.MemberGroupID == nil {
		return fmt.Errorf("either member user or member group must be set")
	}
	if m.MemberUserID != nil && m.MemberGroupID != nil {
		return fmt.Errorf("cannot set both member user and member group")
	}
	if m.GroupID == 0 {
		return fmt.Errorf("group is required")
	}
	return nil
}
