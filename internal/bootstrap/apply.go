package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/repositories"
	"github.com/asakaida/restree/internal/services/restree"
)

// Deps are the stores and services Apply writes through
type Deps struct {
	Permissions repositories.PermissionRepository
	Principals  repositories.PrincipalRepository
	Tree        *restree.Service
	Regions     *cache.Regions
	Logger      logrus.FieldLogger
}

// Apply creates every record of the seed that does not exist yet and then
// invalidates all cache regions. Applying the same seed twice is a no-op.
func Apply(ctx context.Context, deps Deps, seed *Seed) error {
	if err := seed.Validate(); err != nil {
		return err
	}

	a := &applier{deps: deps, owner: seed.Owner}
	if a.owner == "" {
		a.owner = "system"
	}

	steps := []struct {
		name string
		fn   func(context.Context, *Seed) error
	}{
		{"users", a.users},
		{"groups", a.groups},
		{"members", a.members},
		{"permissions", a.permissions},
		{"resources", a.resources},
	}
	for _, step := range steps {
		if err := step.fn(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed %s: %w", step.name, err)
		}
	}

	if err := deps.Regions.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("failed to invalidate caches: %w", err)
	}

	deps.Logger.WithFields(logrus.Fields{
		"users":       len(seed.Users),
		"groups":      len(seed.Groups),
		"permissions": len(seed.Permissions),
		"created":     a.created,
	}).Info("seed applied")
	return nil
}

type applier struct {
	deps    Deps
	owner   string
	ownerID int64
	created int
}

func (a *applier) users(ctx context.Context, seed *Seed) error {
	for _, u := range seed.Users {
		_, err := a.deps.Principals.GetUser(ctx, entities.ByName(u.Principal))
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		user := &entities.User{
			ID:          u.ID,
			Principal:   u.Principal,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			IsEnabled:   u.Enabled,
			OwnerID:     entities.SystemUID,
		}
		if err := a.deps.Principals.CreateUser(ctx, user); err != nil {
			return err
		}
		a.created++
	}

	owner, err := a.deps.Principals.GetUser(ctx, entities.ByName(a.owner))
	if err != nil {
		return fmt.Errorf("owner '%s': %w", a.owner, err)
	}
	a.ownerID = owner.ID
	return nil
}

func (a *applier) groups(ctx context.Context, seed *Seed) error {
	for _, g := range seed.Groups {
		_, err := a.deps.Principals.GetGroup(ctx, entities.ByName(g.Name))
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		group := &entities.Group{ID: g.ID, Name: g.Name, Kind: g.Kind, Description: g.Description, OwnerID: a.ownerID}
		if err := a.deps.Principals.CreateGroup(ctx, group); err != nil {
			return err
		}
		a.created++
	}
	return nil
}

func (a *applier) members(ctx context.Context, seed *Seed) error {
	for _, m := range seed.Members {
		group, err := a.deps.Principals.GetGroup(ctx, entities.ByName(m.Group))
		if err != nil {
			return err
		}

		member := &entities.GroupMember{GroupID: group.ID, OwnerID: a.ownerID}
		if m.User != "" {
			user, err := a.deps.Principals.GetUser(ctx, entities.ByName(m.User))
			if err != nil {
				return err
			}
			member.MemberUserID = &user.ID
		} else {
			inner, err := a.deps.Principals.GetGroup(ctx, entities.ByName(m.MemberGroup))
			if err != nil {
				return err
			}
			member.MemberGroupID = &inner.ID
		}

		err = a.deps.Principals.AddMember(ctx, member)
		switch {
		case err == nil:
			a.created++
		case !errors.Is(err, repositories.ErrDuplicate):
			return err
		}
	}
	return nil
}

func (a *applier) permissions(ctx context.Context, seed *Seed) error {
	for _, p := range seed.Permissions {
		_, err := a.deps.Permissions.GetByName(ctx, p.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}

		perm := &entities.PermissionNode{ID: p.ID, Name: p.Name, Description: p.Description, OwnerID: a.ownerID}
		if p.Parent != "" {
			parent, err := a.deps.Permissions.GetByName(ctx, p.Parent)
			if err != nil {
				return fmt.Errorf("parent of permission '%s': %w", p.Name, err)
			}
			perm.ParentID = &parent.ID
		}
		if err := a.deps.Permissions.Create(ctx, perm); err != nil {
			return err
		}
		a.created++
	}

	// ACEs below resolve names against the permission table
	return a.deps.Regions.InvalidateRegion(ctx, cache.RegionLongTerm)
}

func (a *applier) resources(ctx context.Context, seed *Seed) error {
	for _, r := range seed.Resources {
		kind, err := r.kind()
		if err != nil {
			return err
		}
		root, err := a.deps.Tree.CreateRoot(ctx, entities.ByID(a.ownerID), r.Name, kind, r.attrs())
		if err != nil {
			return err
		}
		if err := a.node(ctx, root, r); err != nil {
			return err
		}
	}
	return nil
}

func (a *applier) node(ctx context.Context, node *entities.ResourceNode, r ResourceSeed) error {
	for _, ace := range r.ACL {
		req := restree.AceRequest{
			Owner:       entities.ByID(a.ownerID),
			Permission:  entities.ByName(ace.Permission),
			SortIndex:   ace.SortIndex,
			Description: ace.Description,
		}
		if ace.User != "" {
			req.User = entities.ByName(ace.User)
		}
		if ace.Group != "" {
			req.Group = entities.ByName(ace.Group)
		}

		add := a.deps.Tree.Allow
		if ace.Effect == "deny" {
			add = a.deps.Tree.Deny
		}
		_, err := add(ctx, node, req)
		switch {
		case err == nil:
			a.created++
		case !errors.Is(err, repositories.ErrDuplicate):
			return fmt.Errorf("ACL of '%s': %w", node.Name, err)
		}
	}

	for _, c := range r.Children {
		child, err := a.deps.Tree.Child(ctx, node, c.Name)
		if errors.Is(err, entities.ErrResourceNotFound) {
			kind, kerr := c.kind()
			if kerr != nil {
				return kerr
			}
			child, err = a.deps.Tree.AddChild(ctx, node, entities.ByID(a.ownerID), c.Name, kind, c.attrs())
			if err == nil {
				a.created++
			}
		}
		if err != nil {
			return err
		}
		if err := a.node(ctx, child, c); err != nil {
			return err
		}
	}
	return nil
}
