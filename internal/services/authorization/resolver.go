// Package authorization expands per-node ACEs into ACLs and decides whether a
// principal holds a permission on a resource.
package authorization

import (
	"context"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/repositories"
	"github.com/asakaida/restree/internal/services/permtree"
)

// PermissionLoader provides the permission table
type PermissionLoader interface {
	LoadAll(ctx context.Context) (*permtree.Table, error)
}

// Resolver expands the ACEs of a single node into its ACL
type Resolver struct {
	aces    repositories.AceRepository
	perms   PermissionLoader
	regions *cache.Regions
}

// NewResolver creates a new Resolver; regions may be nil
func NewResolver(aces repositories.AceRepository, perms PermissionLoader, regions *cache.Regions) *Resolver {
	return &Resolver{aces: aces, perms: perms, regions: regions}
}

// NodeACL returns the expanded ACL of one node.
//
// ACEs are taken in (allow, sort index, id) order. Each ACE emits its own
// entry followed by its implied entries: an allow also grants every ancestor
// permission (nearest first), a deny also denies every descendant permission.
// The wildcard permission becomes a single AllPermissions entry.
// Entries are not re-sorted after expansion.
func (r *Resolver) NodeACL(ctx context.Context, nodeID int64) ([]entities.ACLEntry, error) {
	aces, err := cache.GetOrLoad(ctx, r.regions, cache.RegionDefault, cache.Key("resource", nodeID, "acl"),
		func(ctx context.Context) ([]*entities.Ace, error) {
			return r.aces.ListByResource(ctx, nodeID)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load ACEs of resource %d: %w", nodeID, err)
	}

	table, err := r.perms.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	return Expand(aces, table)
}

// Expand turns ACEs into ACL entries using the permission table
func Expand(aces []*entities.Ace, table *permtree.Table) ([]entities.ACLEntry, error) {
	sorted := make([]*entities.Ace, len(aces))
	copy(sorted, aces)
	entities.SortACEs(sorted)

	acl := make([]entities.ACLEntry, 0, len(sorted))
	for _, ace := range sorted {
		perm, ok := table.ByID(ace.PermissionID)
		if !ok {
			return nil, fmt.Errorf("ACE %d references unknown permission %d", ace.ID, ace.PermissionID)
		}

		effect := ace.Effect()
		principal := ace.PrincipalKey()

		if perm.Name == entities.WildcardPermission {
			acl = append(acl, entities.ACLEntry{Effect: effect, Principal: principal, AllPermissions: true})
			continue
		}

		acl = append(acl, entities.ACLEntry{Effect: effect, Principal: principal, Permission: perm.Name})

		implied := perm.Children
		if ace.Allow {
			implied = perm.Parents
		}
		for _, p := range implied {
			acl = append(acl, entities.ACLEntry{Effect: effect, Principal: principal, Permission: p.Name})
		}
	}
	return acl, nil
}
