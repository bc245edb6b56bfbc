// Package permtree loads the permission taxonomy and answers ancestor and
// descendant queries in constant time.
package permtree

import (
	"context"
	"fmt"
	"sort"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/infrastructure/cache"
	"github.com/asakaida/restree/internal/repositories"
)

// CacheKey is the long-term cache key of the whole taxonomy
var CacheKey = cache.Key("permission", "all", "tree")

// Table indexes PermissionInfo by ID and by name
type Table struct {
	byID   map[int64]*entities.PermissionInfo
	byName map[string]*entities.PermissionInfo
	ids    []int64
}

// Build derives the permission info table from the stored taxonomy.
// Parents are collected top-down (nearest first), children bottom-up as the
// deduplicated transitive set. A cyclic taxonomy is not supported; the walk
// only stops at an already visited node.
func Build(nodes []*entities.PermissionNode) *Table {
	byID := make(map[int64]*entities.PermissionNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	descendants := make(map[int64]map[int64]struct{}, len(nodes))
	infos := make([]entities.PermissionInfo, 0, len(nodes))

	for _, n := range nodes {
		info := entities.PermissionInfo{
			ID:       n.ID,
			Name:     n.Name,
			Parents:  make([]entities.PermissionRef, 0),
			Children: make([]entities.PermissionRef, 0),
		}

		seen := map[int64]bool{n.ID: true}
		for pid := n.ParentID; pid != nil; {
			parent, ok := byID[*pid]
			if !ok || seen[parent.ID] {
				break
			}
			seen[parent.ID] = true
			info.Parents = append(info.Parents, entities.PermissionRef{ID: parent.ID, Name: parent.Name})

			set, ok := descendants[parent.ID]
			if !ok {
				set = make(map[int64]struct{})
				descendants[parent.ID] = set
			}
			set[n.ID] = struct{}{}

			pid = parent.ParentID
		}
		infos = append(infos, info)
	}

	for i := range infos {
		for id := range descendants[infos[i].ID] {
			infos[i].Children = append(infos[i].Children, entities.PermissionRef{ID: id, Name: byID[id].Name})
		}
		sort.Slice(infos[i].Children, func(a, b int) bool {
			return infos[i].Children[a].ID < infos[i].Children[b].ID
		})
	}

	return NewTable(infos)
}

// NewTable indexes already derived infos
func NewTable(infos []entities.PermissionInfo) *Table {
	t := &Table{
		byID:   make(map[int64]*entities.PermissionInfo, len(infos)),
		byName: make(map[string]*entities.PermissionInfo, len(infos)),
		ids:    make([]int64, 0, len(infos)),
	}
	for i := range infos {
		info := &infos[i]
		t.byID[info.ID] = info
		t.byName[info.Name] = info
		t.ids = append(t.ids, info.ID)
	}
	sort.Slice(t.ids, func(i, j int) bool { return t.ids[i] < t.ids[j] })
	return t
}

// ByID returns the info of a permission ID
func (t *Table) ByID(id int64) (*entities.PermissionInfo, bool) {
	info, ok := t.byID[id]
	return info, ok
}

// ByName returns the info of a permission name
func (t *Table) ByName(name string) (*entities.PermissionInfo, bool) {
	info, ok := t.byName[name]
	return info, ok
}

// Lookup resolves a reference by ID or by name
func (t *Table) Lookup(ref entities.Ref) (*entities.PermissionInfo, bool) {
	if ref.IsID() {
		return t.ByID(ref.ID)
	}
	return t.ByName(ref.Name)
}

// Infos returns all entries ordered by ID
func (t *Table) Infos() []entities.PermissionInfo {
	out := make([]entities.PermissionInfo, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, *t.byID[id])
	}
	return out
}

// Len returns the number of permissions
func (t *Table) Len() int {
	return len(t.ids)
}

// Tree loads the taxonomy through the long-term cache region
type Tree struct {
	repo    repositories.PermissionRepository
	regions *cache.Regions
}

// New creates a Tree; regions may be nil to disable caching
func New(repo repositories.PermissionRepository, regions *cache.Regions) *Tree {
	return &Tree{repo: repo, regions: regions}
}

// LoadAll returns the permission table, building it on a cache miss
func (t *Tree) LoadAll(ctx context.Context) (*Table, error) {
	infos, err := cache.GetOrLoad(ctx, t.regions, cache.RegionLongTerm, CacheKey,
		func(ctx context.Context) ([]entities.PermissionInfo, error) {
			nodes, err := t.repo.List(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load permissions: %w", err)
			}
			return Build(nodes).Infos(), nil
		})
	if err != nil {
		return nil, err
	}
	return NewTable(infos), nil
}
