package repositories

import (
	"context"

	"github.com/asakaida/restree/internal/entities"
)

// ResourceRepository defines the interface for resource tree access
type ResourceRepository interface {
	// Create inserts a node and assigns its ID and creation time
	Create(ctx context.Context, node *entities.ResourceNode) error

	// GetByID retrieves a node by ID
	GetByID(ctx context.Context, id int64) (*entities.ResourceNode, error)

	// FindRoot retrieves the root node with the given name
	FindRoot(ctx context.Context, name string) (*entities.ResourceNode, error)

	// FindChild retrieves the child of parentID with the given name
	FindChild(ctx context.Context, parentID int64, name string) (*entities.ResourceNode, error)

	// ListChildren returns the children of a node ordered by sort index, then name
	ListChildren(ctx context.Context, parentID int64) ([]*entities.ResourceNode, error)

	// Update persists changed fields. It fails with entities.ErrEditorRequired
	// when the node carries no editor.
	Update(ctx context.Context, node *entities.ResourceNode) error

	// Delete removes a node together with its descendants and their ACEs
	Delete(ctx context.Context, id int64) error
}

// AceRepository defines the interface for access control entry access
type AceRepository interface {
	// Create inserts an ACE; returns ErrDuplicate on a unique violation
	Create(ctx context.Context, ace *entities.Ace) error

	// ListByResource returns the ACEs of a node sorted by (allow, sort index, id)
	ListByResource(ctx context.Context, resourceID int64) ([]*entities.Ace, error)

	// Update changes sort index and description of an ACE
	Update(ctx context.Context, ace *entities.Ace) error

	// Delete removes one ACE
	Delete(ctx context.Context, id int64) error
}
