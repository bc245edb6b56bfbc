package repositories

import (
	"context"

	"github.com/asakaida/restree/internal/entities"
)

// PermissionRepository defines the interface for permission taxonomy access
type PermissionRepository interface {
	// Create inserts a permission and assigns its ID
	Create(ctx context.Context, perm *entities.PermissionNode) error

	// List returns the full taxonomy ordered by ID
	List(ctx context.Context) ([]*entities.PermissionNode, error)

	// GetByID retrieves a permission by ID
	GetByID(ctx context.Context, id int64) (*entities.PermissionNode, error)

	// GetByName retrieves a permission by its unique name
	GetByName(ctx context.Context, name string) (*entities.PermissionNode, error)
}
