package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PrincipalRepository implements repositories.PrincipalRepository
type PrincipalRepository struct {
	s *Store
}

var _ repositories.PrincipalRepository = (*PrincipalRepository)(nil)

// CreateUser inserts a user. Principals are unique ignoring case.
func (r *PrincipalRepository) CreateUser(ctx context.Context, user *entities.User) error {
	if user.Principal == "" {
		return fmt.Errorf("user principal is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok && user.ID != 0 {
		return fmt.Errorf("user %d: %w", user.ID, repositories.ErrDuplicate)
	}
	for _, u := range r.s.users {
		if strings.EqualFold(u.Principal, user.Principal) {
			return fmt.Errorf("user '%s': %w", user.Principal, repositories.ErrDuplicate)
		}
	}

	user.ID = r.s.allocID("user", user.ID)
	user.CreatedAt = r.s.now()
	c := *user
	r.s.users[user.ID] = &c
	return nil
}

// CreateGroup inserts a group. Names are unique within a tenant.
func (r *PrincipalRepository) CreateGroup(ctx context.Context, group *entities.Group) error {
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[group.ID]; ok && group.ID != 0 {
		return fmt.Errorf("group %d: %w", group.ID, repositories.ErrDuplicate)
	}
	for _, g := range r.s.groups {
		if g.Name == group.Name && sameParent(g.TenantID, group.TenantID) {
			return fmt.Errorf("group '%s': %w", group.Name, repositories.ErrDuplicate)
		}
	}

	group.ID = r.s.allocID("group", group.ID)
	group.CreatedAt = r.s.now()
	c := *group
	if group.TenantID != nil {
		c.TenantID = int64Ptr(*group.TenantID)
	}
	r.s.groups[group.ID] = &c
	return nil
}

// AddMember inserts a membership
func (r *PrincipalRepository) AddMember(ctx context.Context, member *entities.GroupMember) error {
	if err := member.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.groups[member.GroupID]; !ok {
		return fmt.Errorf("group %d: %w", member.GroupID, repositories.ErrNotFound)
	}
	if member.MemberUserID != nil {
		if _, ok := r.s.users[*member.MemberUserID]; !ok {
			return fmt.Errorf("user %d: %w", *member.MemberUserID, repositories.ErrNotFound)
		}
	}
	if member.MemberGroupID != nil {
		if _, ok := r.s.groups[*member.MemberGroupID]; !ok {
			return fmt.Errorf("group %d: %w", *member.MemberGroupID, repositories.ErrNotFound)
		}
	}
	for _, m := range r.s.members {
		if m.GroupID == member.GroupID && sameParent(m.MemberUserID, member.MemberUserID) &&
			sameParent(m.MemberGroupID, member.MemberGroupID) {
			return fmt.Errorf("membership in group %d: %w", member.GroupID, repositories.ErrDuplicate)
		}
	}

	member.ID = r.s.allocID("group_member", member.ID)
	c := *member
	if member.MemberUserID != nil {
		c.MemberUserID = int64Ptr(*member.MemberUserID)
	}
	if member.MemberGroupID != nil {
		c.MemberGroupID = int64Ptr(*member.MemberGroupID)
	}
	r.s.members[member.ID] = &c
	return nil
}

// GetUser resolves a user by ID or principal
func (r *PrincipalRepository) GetUser(ctx context.Context, ref entities.Ref) (*entities.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if ref.IsID() {
		if u, ok := r.s.users[ref.ID]; ok {
			c := *u
			return &c, nil
		}
	} else {
		for _, u := range r.s.users {
			if strings.EqualFold(u.Principal, ref.Name) {
				c := *u
				return &c, nil
			}
		}
	}
	return nil, fmt.Errorf("user %s: %w", ref, repositories.ErrNotFound)
}

// GetGroup resolves a group by ID or name
func (r *PrincipalRepository) GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if ref.IsID() {
		if g, ok := r.s.groups[ref.ID]; ok {
			c := *g
			return &c, nil
		}
	} else {
		var found *entities.Group
		for _, g := range r.s.groups {
			if g.Name == ref.Name && (found == nil || g.ID < found.ID) {
				found = g
			}
		}
		if found != nil {
			c := *found
			return &c, nil
		}
	}
	return nil, fmt.Errorf("group %s: %w", ref, repositories.ErrNotFound)
}

// DirectGroupsOfUser returns the groups the user is a direct member of
func (r *PrincipalRepository) DirectGroupsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []int64
	for _, m := range r.s.members {
		if m.MemberUserID != nil && *m.MemberUserID == userID {
			ids = append(ids, m.GroupID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ParentGroupsOfGroup returns the groups that directly contain the group
func (r *PrincipalRepository) ParentGroupsOfGroup(ctx context.Context, groupID int64) ([]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []int64
	for _, m := range r.s.members {
		if m.MemberGroupID != nil && *m.MemberGroupID == groupID {
			ids = append(ids, m.GroupID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
