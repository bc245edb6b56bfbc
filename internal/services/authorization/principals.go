package authorization

import (
	"context"
	"fmt"
	"sort"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PrincipalResolver turns a user reference into the principal keys used to
// match ACL entries
type PrincipalResolver struct {
	principals repositories.PrincipalRepository
	implicit   []int64 // Groups every principal belongs to, e.g. everyone
}

// NewPrincipalResolver creates a new PrincipalResolver
func NewPrincipalResolver(principals repositories.PrincipalRepository) *PrincipalResolver {
	return &PrincipalResolver{principals: principals}
}

// WithImplicitGroups makes every resolved principal, including the
// anonymous one, a member of the given groups
func (r *PrincipalResolver) WithImplicitGroups(ids ...int64) *PrincipalResolver {
	r.implicit = append(r.implicit, ids...)
	return r
}

// Anonymous returns the principal of an unauthenticated request
func (r *PrincipalResolver) Anonymous() entities.Principal {
	return Groups(r.implicit...)
}

// Resolve returns the user together with all groups it belongs to, directly
// or through nested groups. Membership cycles are tolerated.
func (r *PrincipalResolver) Resolve(ctx context.Context, user entities.Ref) (entities.Principal, error) {
	u, err := r.principals.GetUser(ctx, user)
	if err != nil {
		return entities.Principal{}, fmt.Errorf("failed to resolve user %s: %w", user, err)
	}

	direct, err := r.principals.DirectGroupsOfUser(ctx, u.ID)
	if err != nil {
		return entities.Principal{}, fmt.Errorf("failed to load groups of user %d: %w", u.ID, err)
	}
	queue := append(append([]int64{}, r.implicit...), direct...)

	seen := make(map[int64]bool)
	var groups []int64
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		groups = append(groups, id)

		parents, err := r.principals.ParentGroupsOfGroup(ctx, id)
		if err != nil {
			return entities.Principal{}, fmt.Errorf("failed to load parent groups of group %d: %w", id, err)
		}
		queue = append(queue, parents...)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return entities.Principal{UserID: u.ID, GroupIDs: groups}, nil
}

// Groups builds a principal from group IDs only, e.g. for anonymous requests
func Groups(ids ...int64) entities.Principal {
	return entities.Principal{GroupIDs: append([]int64(nil), ids...)}
}
