package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PermissionRepository implements repositories.PermissionRepository
type PermissionRepository struct {
	s *Store
}

var _ repositories.PermissionRepository = (*PermissionRepository)(nil)

// Create inserts a permission
func (r *PermissionRepository) Create(ctx context.Context, perm *entities.PermissionNode) error {
	if perm.Name == "" {
		return fmt.Errorf("permission name is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, p := range r.s.permissions {
		if p.Name == perm.Name {
			return fmt.Errorf("permission '%s': %w", perm.Name, repositories.ErrDuplicate)
		}
	}
	if perm.ParentID != nil {
		if _, ok := r.s.permissions[*perm.ParentID]; !ok {
			return fmt.Errorf("parent permission %d: %w", *perm.ParentID, repositories.ErrNotFound)
		}
	}

	perm.ID = r.s.allocID("permission", perm.ID)
	perm.CreatedAt = r.s.now()
	c := *perm
	r.s.permissions[perm.ID] = &c
	return nil
}

// List returns all permissions ordered by ID
func (r *PermissionRepository) List(ctx context.Context) ([]*entities.PermissionNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	perms := make([]*entities.PermissionNode, 0, len(r.s.permissions))
	for _, p := range r.s.permissions {
		c := *p
		perms = append(perms, &c)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
	return perms, nil
}

// GetByID retrieves a permission by ID
func (r *PermissionRepository) GetByID(ctx context.Context, id int64) (*entities.PermissionNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.permissions[id]
	if !ok {
		return nil, fmt.Errorf("permission %d: %w", id, repositories.ErrNotFound)
	}
	c := *p
	return &c, nil
}

// GetByName retrieves a permission by name
func (r *PermissionRepository) GetByName(ctx context.Context, name string) (*entities.PermissionNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.permissions {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("permission '%s': %w", name, repositories.ErrNotFound)
}
