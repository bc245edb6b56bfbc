// Package memory implements the repositories on flat in-memory tables.
// Records live in maps keyed by ID; parent/child relations are resolved
// through an index from parent ID to child IDs instead of object pointers.
package memory

import (
	"sync"
	"time"

	"github.com/asakaida/restree/internal/entities"
)

// Store holds every table. The repositories returned by its accessors share
// one lock so cascading deletes stay consistent.
type Store struct {
	mu sync.RWMutex

	permissions map[int64]*entities.PermissionNode
	resources   map[int64]*entities.ResourceNode
	children    map[int64][]int64 // parent ID -> child IDs
	aces        map[int64]*entities.Ace
	users       map[int64]*entities.User
	groups      map[int64]*entities.Group
	members     map[int64]*entities.GroupMember

	nextID map[string]int64
	now    func() time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		permissions: make(map[int64]*entities.PermissionNode),
		resources:   make(map[int64]*entities.ResourceNode),
		children:    make(map[int64][]int64),
		aces:        make(map[int64]*entities.Ace),
		users:       make(map[int64]*entities.User),
		groups:      make(map[int64]*entities.Group),
		members:     make(map[int64]*entities.GroupMember),
		nextID:      make(map[string]int64),
		now:         time.Now,
	}
}

// Permissions returns the permission repository view of the store
func (s *Store) Permissions() *PermissionRepository {
	return &PermissionRepository{s: s}
}

// Resources returns the resource repository view of the store
func (s *Store) Resources() *ResourceRepository {
	return &ResourceRepository{s: s}
}

// Aces returns the ACE repository view of the store
func (s *Store) Aces() *AceRepository {
	return &AceRepository{s: s}
}

// Principals returns the principal repository view of the store
func (s *Store) Principals() *PrincipalRepository {
	return &PrincipalRepository{s: s}
}

// allocID returns the next ID of a table; preset IDs move the sequence forward.
// Must be called with the lock held.
func (s *Store) allocID(table string, preset int64) int64 {
	if preset != 0 {
		if preset > s.nextID[table] {
			s.nextID[table] = preset
		}
		return preset
	}
	s.nextID[table]++
	return s.nextID[table]
}

func int64Ptr(v int64) *int64 {
	return &v
}
