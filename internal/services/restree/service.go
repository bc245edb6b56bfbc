// Package restree manages the resource tree and the ACEs attached to its nodes.
package restree

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/repositories"
	"github.com/asakaida/restree/internal/services/permtree"
)

// ErrCycle is returned when a move would place a node below itself
var ErrCycle = errors.New("move would create a cycle")

// Service provides the resource tree operations.
// Reads go through the cache regions; every mutation invalidates them.
type Service struct {
	resources  repositories.ResourceRepository
	aces       repositories.AceRepository
	principals repositories.PrincipalRepository
	perms      *permtree.Tree
	regions    *cache.Regions
	logger     logrus.FieldLogger
}

// NewService creates a new resource tree service; regions may be nil
func NewService(
	resources repositories.ResourceRepository,
	aces repositories.AceRepository,
	principals repositories.PrincipalRepository,
	perms *permtree.Tree,
	regions *cache.Regions,
	logger logrus.FieldLogger,
) *Service {
	return &Service{
		resources:  resources,
		aces:       aces,
		principals: principals,
		perms:      perms,
		regions:    regions,
		logger:     logger,
	}
}

// CreateRoot returns the root called name, creating it when missing.
// An existing root of another kind is a ResourceKindConflictError.
// The store is always read directly so a stale cache cannot hide a root.
func (s *Service) CreateRoot(ctx context.Context, owner entities.Ref, name string, kind entities.Kind, attrs entities.ResourceAttrs) (*entities.ResourceNode, error) {
	existing, err := s.resources.FindRoot(ctx, name)
	switch {
	case err == nil:
		if !existing.Kind.Same(kind) {
			return nil, &entities.ResourceKindConflictError{Name: name, Existing: existing.Kind, Wanted: kind}
		}
		return existing, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, fmt.Errorf("failed to find root '%s': %w", name, err)
	}

	ownerID, err := s.resolveUser(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner: %w", err)
	}

	node := entities.NewResourceNode(ownerID, nil, name, kind, attrs)
	if err := s.resources.Create(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to create root '%s': %w", name, err)
	}

	s.logger.WithFields(logrus.Fields{"id": node.ID, "name": name, "kind": kind.Name()}).Info("created root resource")
	s.invalidate(ctx)
	return node, nil
}

// LoadRoot returns the root called name
func (s *Service) LoadRoot(ctx context.Context, name string) (*entities.ResourceNode, error) {
	node, err := cache.GetOrLoad(ctx, s.regions, cache.RegionLongTerm, cache.Key("resource", name, "None"),
		func(ctx context.Context) (*entities.ResourceNode, error) {
			n, err := s.resources.FindRoot(ctx, name)
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, &entities.ResourceNotFoundError{Name: name}
			}
			return n, err
		})
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Child returns the child of parent called name
func (s *Service) Child(ctx context.Context, parent *entities.ResourceNode, name string) (*entities.ResourceNode, error) {
	node, err := cache.GetOrLoad(ctx, s.regions, cache.RegionDefault, cache.Key("resource", name, parent.ID),
		func(ctx context.Context) (*entities.ResourceNode, error) {
			n, err := s.resources.FindChild(ctx, parent.ID, name)
			if errors.Is(err, repositories.ErrNotFound) {
				parentID := parent.ID
				return nil, &entities.ResourceNotFoundError{ParentID: &parentID, Name: name}
			}
			return n, err
		})
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Load returns the node with the given ID
func (s *Service) Load(ctx context.Context, id int64) (*entities.ResourceNode, error) {
	node, err := cache.GetOrLoad(ctx, s.regions, cache.RegionDefault, cache.Key("resource", id, "node"),
		func(ctx context.Context) (*entities.ResourceNode, error) {
			n, err := s.resources.GetByID(ctx, id)
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, &entities.ResourceNotFoundError{ID: id}
			}
			return n, err
		})
	if err != nil {
		return nil, err
	}
	return node.Clone(), nil
}

// Children returns the children of parent ordered by sort index, then name
func (s *Service) Children(ctx context.Context, parent *entities.ResourceNode) ([]*entities.ResourceNode, error) {
	nodes, err := cache.GetOrLoad(ctx, s.regions, cache.RegionDefault, cache.Key("resource", parent.ID, "children"),
		func(ctx context.Context) ([]*entities.ResourceNode, error) {
			return s.resources.ListChildren(ctx, parent.ID)
		})
	if err != nil {
		return nil, err
	}
	out := make([]*entities.ResourceNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out, nil
}

// Traverse walks path from the root called rootName
func (s *Service) Traverse(ctx context.Context, rootName string, path []string) (*entities.ResourceNode, error) {
	node, err := s.LoadRoot(ctx, rootName)
	if err != nil {
		return nil, err
	}
	for _, name := range path {
		if node, err = s.Child(ctx, node, name); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// AddChild creates a child of parent. Sibling name uniqueness is left to
// the store.
func (s *Service) AddChild(ctx context.Context, parent *entities.ResourceNode, owner entities.Ref, name string, kind entities.Kind, attrs entities.ResourceAttrs) (*entities.ResourceNode, error) {
	ownerID, err := s.resolveUser(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner: %w", err)
	}

	parentID := parent.ID
	node := entities.NewResourceNode(ownerID, &parentID, name, kind, attrs)
	if err := s.resources.Create(ctx, node); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, &entities.ResourceNotFoundError{ID: parentID}
		}
		return nil, fmt.Errorf("failed to add child '%s' to %d: %w", name, parentID, err)
	}

	s.invalidate(ctx)
	return node, nil
}

// Update applies mutate to a copy of node and persists it with editor as the
// recorded editor. Identity and parent cannot be changed here; use Move.
// A zero editor fails with entities.ErrEditorRequired when committing.
func (s *Service) Update(ctx context.Context, node *entities.ResourceNode, editor entities.Ref, mutate func(*entities.ResourceNode)) (*entities.ResourceNode, error) {
	updated := node.Clone()
	if mutate != nil {
		mutate(updated)
	}
	updated.ID = node.ID
	updated.ParentID = node.Clone().ParentID

	if err := s.commit(ctx, updated, editor); err != nil {
		return nil, err
	}
	return updated, nil
}

// Move re-parents node below newParent, or makes it a root when newParent
// is nil. Moving a node below itself or one of its descendants fails with
// ErrCycle.
func (s *Service) Move(ctx context.Context, node, newParent *entities.ResourceNode, editor entities.Ref) (*entities.ResourceNode, error) {
	updated := node.Clone()
	updated.ParentID = nil

	if newParent != nil {
		for id := newParent.ID; ; {
			if id == node.ID {
				return nil, fmt.Errorf("cannot move %d below %d: %w", node.ID, newParent.ID, ErrCycle)
			}
			ancestor, err := s.resources.GetByID(ctx, id)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return nil, &entities.ResourceNotFoundError{ID: id}
				}
				return nil, fmt.Errorf("failed to load ancestor %d: %w", id, err)
			}
			if ancestor.ParentID == nil {
				break
			}
			id = *ancestor.ParentID
		}
		parentID := newParent.ID
		updated.ParentID = &parentID
	}

	if err := s.commit(ctx, updated, editor); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) commit(ctx context.Context, node *entities.ResourceNode, editor entities.Ref) error {
	node.EditorID = nil
	if !editor.IsZero() {
		editorID, err := s.resolveUser(ctx, editor)
		if err != nil {
			return fmt.Errorf("failed to resolve editor: %w", err)
		}
		node.EditorID = &editorID
	}

	if err := s.resources.Update(ctx, node); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &entities.ResourceNotFoundError{ID: node.ID}
		}
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Delete removes node with its descendants and their ACEs
func (s *Service) Delete(ctx context.Context, node *entities.ResourceNode) error {
	if err := s.resources.Delete(ctx, node.ID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return &entities.ResourceNotFoundError{ID: node.ID}
		}
		return fmt.Errorf("failed to delete resource %d: %w", node.ID, err)
	}

	s.logger.WithField("id", node.ID).Info("deleted resource subtree")
	s.invalidate(ctx)
	return nil
}

// invalidate clears every region after a committed mutation.
// Invalidation failures are logged; the mutation itself already succeeded.
func (s *Service) invalidate(ctx context.Context) {
	if err := s.regions.InvalidateAll(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate cache regions")
	}
}

func (s *Service) resolveUser(ctx context.Context, ref entities.Ref) (int64, error) {
	if ref.IsZero() {
		return 0, fmt.Errorf("user reference is empty")
	}
	user, err := s.principals.GetUser(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("user %s: %w", ref, err)
	}
	return user.ID, nil
}
