package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// ResourceRepository implements repositories.ResourceRepository
type ResourceRepository struct {
	s *Store
}

var _ repositories.ResourceRepository = (*ResourceRepository)(nil)

// Create inserts a node below its parent (or as a root)
func (r *ResourceRepository) Create(ctx context.Context, node *entities.ResourceNode) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid resource node: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if node.ParentID != nil {
		if _, ok := r.s.resources[*node.ParentID]; !ok {
			return fmt.Errorf("parent resource %d: %w", *node.ParentID, repositories.ErrNotFound)
		}
	}
	if r.nameTaken(node.ParentID, node.Name, 0) {
		return fmt.Errorf("resource '%s': %w", node.Name, repositories.ErrDuplicate)
	}

	node.ID = r.s.allocID("resource", node.ID)
	node.CreatedAt = r.s.now()
	r.s.resources[node.ID] = node.Clone()
	if node.ParentID != nil {
		r.s.children[*node.ParentID] = append(r.s.children[*node.ParentID], node.ID)
	}
	return nil
}

// GetByID retrieves a node by ID
func (r *ResourceRepository) GetByID(ctx context.Context, id int64) (*entities.ResourceNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n, ok := r.s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %d: %w", id, repositories.ErrNotFound)
	}
	return n.Clone(), nil
}

// FindRoot retrieves a root node by name
func (r *ResourceRepository) FindRoot(ctx context.Context, name string) (*entities.ResourceNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found *entities.ResourceNode
	for _, n := range r.s.resources {
		if n.ParentID == nil && n.Name == name {
			if found == nil || n.ID < found.ID {
				found = n
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("root resource '%s': %w", name, repositories.ErrNotFound)
	}
	return found.Clone(), nil
}

// FindChild retrieves a child by name
func (r *ResourceRepository) FindChild(ctx context.Context, parentID int64, name string) (*entities.ResourceNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range r.s.children[parentID] {
		if n := r.s.resources[id]; n != nil && n.Name == name {
			return n.Clone(), nil
		}
	}
	return nil, fmt.Errorf("resource '%s' below %d: %w", name, parentID, repositories.ErrNotFound)
}

// ListChildren returns the children ordered by sort index, then name
func (r *ResourceRepository) ListChildren(ctx context.Context, parentID int64) ([]*entities.ResourceNode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := r.s.children[parentID]
	nodes := make([]*entities.ResourceNode, 0, len(ids))
	for _, id := range ids {
		if n := r.s.resources[id]; n != nil {
			nodes = append(nodes, n.Clone())
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].SortIndex != nodes[j].SortIndex {
			return nodes[i].SortIndex < nodes[j].SortIndex
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

// Update persists a changed node, re-indexing it when its parent changed
func (r *ResourceRepository) Update(ctx context.Context, node *entities.ResourceNode) error {
	if err := node.CheckEditor(); err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid resource node: %w", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, ok := r.s.resources[node.ID]
	if !ok {
		return fmt.Errorf("resource %d: %w", node.ID, repositories.ErrNotFound)
	}

	moved := !sameParent(old.ParentID, node.ParentID)
	if moved && node.ParentID != nil {
		if _, ok := r.s.resources[*node.ParentID]; !ok {
			return fmt.Errorf("parent resource %d: %w", *node.ParentID, repositories.ErrNotFound)
		}
	}
	if (moved || old.Name != node.Name) && r.nameTaken(node.ParentID, node.Name, node.ID) {
		return fmt.Errorf("resource '%s': %w", node.Name, repositories.ErrDuplicate)
	}

	if moved {
		if old.ParentID != nil {
			r.s.children[*old.ParentID] = removeID(r.s.children[*old.ParentID], node.ID)
		}
		if node.ParentID != nil {
			r.s.children[*node.ParentID] = append(r.s.children[*node.ParentID], node.ID)
		}
	}

	now := r.s.now()
	node.UpdatedAt = &now
	r.s.resources[node.ID] = node.Clone()
	return nil
}

// Delete removes a node, its descendants and their ACEs
func (r *ResourceRepository) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.resources[id]
	if !ok {
		return fmt.Errorf("resource %d: %w", id, repositories.ErrNotFound)
	}
	if n.ParentID != nil {
		r.s.children[*n.ParentID] = removeID(r.s.children[*n.ParentID], id)
	}
	r.deleteSubtree(id)
	return nil
}

// deleteSubtree must be called with the lock held
func (r *ResourceRepository) deleteSubtree(id int64) {
	for _, child := range r.s.children[id] {
		r.deleteSubtree(child)
	}
	delete(r.s.children, id)
	delete(r.s.resources, id)
	for aceID, ace := range r.s.aces {
		if ace.ResourceID == id {
			delete(r.s.aces, aceID)
		}
	}
}

// nameTaken reports whether a sibling other than except already uses name.
// Must be called with the lock held.
func (r *ResourceRepository) nameTaken(parentID *int64, name string, except int64) bool {
	if parentID != nil {
		for _, id := range r.s.children[*parentID] {
			if n := r.s.resources[id]; n != nil && id != except && n.Name == name {
				return true
			}
		}
		return false
	}
	for id, n := range r.s.resources {
		if n.ParentID == nil && id != except && n.Name == name {
			return true
		}
	}
	return false
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
