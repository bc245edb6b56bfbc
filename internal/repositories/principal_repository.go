package repositories

import (
	"context"

	"github.com/asakaida/restree/internal/entities"
)

// PrincipalRepository defines the interface for users, groups and memberships
type PrincipalRepository interface {
	// CreateUser inserts a user; a preset ID is kept
	CreateUser(ctx context.Context, user *entities.User) error

	// CreateGroup inserts a group; a preset ID is kept
	CreateGroup(ctx context.Context, group *entities.Group) error

	// AddMember inserts a group membership
	AddMember(ctx context.Context, member *entities.GroupMember) error

	// GetUser resolves a user by ID or principal (case insensitive)
	GetUser(ctx context.Context, ref entities.Ref) (*entities.User, error)

	// GetGroup resolves a group by ID or name
	GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error)

	// DirectGroupsOfUser returns the IDs of groups the user is a direct member of
	DirectGroupsOfUser(ctx context.Context, userID int64) ([]int64, error)

	// ParentGroupsOfGroup returns the IDs of groups that contain the group
	ParentGroupsOfGroup(ctx context.Context, groupID int64) ([]int64, error)
}
