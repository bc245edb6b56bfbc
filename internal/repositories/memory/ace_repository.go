package memory

import (
	"context"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// AceRepository implements repositories.AceRepository
type AceRepository struct {
	s *Store
}

var _ repositories.AceRepository = (*AceRepository)(nil)

// Create inserts an ACE. (resource, group, user, permission) is unique.
func (r *AceRepository) Create(ctx context.Context, ace *entities.Ace) error {
	if err := ace.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.resources[ace.ResourceID]; !ok {
		return fmt.Errorf("resource %d: %w", ace.ResourceID, repositories.ErrNotFound)
	}
	if _, ok := r.s.permissions[ace.PermissionID]; !ok {
		return fmt.Errorf("permission %d: %w", ace.PermissionID, repositories.ErrNotFound)
	}
	for _, a := range r.s.aces {
		if a.ResourceID == ace.ResourceID && a.PermissionID == ace.PermissionID &&
			a.PrincipalKey() == ace.PrincipalKey() {
			return fmt.Errorf("ace %s on resource %d: %w", ace.PrincipalKey(), ace.ResourceID, repositories.ErrDuplicate)
		}
	}

	ace.ID = r.s.allocID("ace", ace.ID)
	ace.CreatedAt = r.s.now()
	r.s.aces[ace.ID] = cloneAce(ace)
	return nil
}

// ListByResource returns the ACEs of a node in evaluation order
func (r *AceRepository) ListByResource(ctx context.Context, resourceID int64) ([]*entities.Ace, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var aces []*entities.Ace
	for _, a := range r.s.aces {
		if a.ResourceID == resourceID {
			aces = append(aces, cloneAce(a))
		}
	}
	entities.SortACEs(aces)
	return aces, nil
}

// Update changes sort index, allow flag and description of an ACE
func (r *AceRepository) Update(ctx context.Context, ace *entities.Ace) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.aces[ace.ID]
	if !ok {
		return fmt.Errorf("ace %d: %w", ace.ID, repositories.ErrNotFound)
	}
	a.SortIndex = ace.SortIndex
	a.Allow = ace.Allow
	a.Description = ace.Description
	return nil
}

// Delete removes one ACE
func (r *AceRepository) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.aces[id]; !ok {
		return fmt.Errorf("ace %d: %w", id, repositories.ErrNotFound)
	}
	delete(r.s.aces, id)
	return nil
}

func cloneAce(a *entities.Ace) *entities.Ace {
	c := *a
	if a.UserID != nil {
		c.UserID = int64Ptr(*a.UserID)
	}
	if a.GroupID != nil {
		c.GroupID = int64Ptr(*a.GroupID)
	}
	return &c
}
