package restree

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// AceRequest describes an ACE to attach to a node. Exactly one of User and
// Group must be set; each reference may be by ID, by name or taken from an
// object's Ref method.
type AceRequest struct {
	Owner       entities.Ref
	Permission  entities.Ref
	User        entities.Ref
	Group       entities.Ref
	SortIndex   *int
	Description string
}

// Allow grants a permission on node
func (s *Service) Allow(ctx context.Context, node *entities.ResourceNode, req AceRequest) (*entities.Ace, error) {
	return s.addAce(ctx, node, req, true)
}

// Deny denies a permission on node
func (s *Service) Deny(ctx context.Context, node *entities.ResourceNode, req AceRequest) (*entities.Ace, error) {
	return s.addAce(ctx, node, req, false)
}

func (s *Service) addAce(ctx context.Context, node *entities.ResourceNode, req AceRequest, allow bool) (*entities.Ace, error) {
	if req.User.IsZero() == req.Group.IsZero() {
		if req.User.IsZero() {
			return nil, &entities.InvalidAceError{Reason: "ACE must reference either user or group"}
		}
		return nil, &entities.InvalidAceError{Reason: "ACE cannot reference user and group simultaneously"}
	}

	table, err := s.perms.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	perm, ok := table.Lookup(req.Permission)
	if !ok {
		return nil, &entities.InvalidAceError{Reason: fmt.Sprintf("unknown permission %s", req.Permission)}
	}

	ownerID, err := s.resolveUser(ctx, req.Owner)
	if err != nil {
		return nil, &entities.InvalidAceError{Reason: "owner cannot be resolved", Cause: err}
	}

	sortIndex := entities.DefaultAceSortIndex
	if req.SortIndex != nil {
		sortIndex = *req.SortIndex
	}
	ace := &entities.Ace{
		ResourceID:   node.ID,
		PermissionID: perm.ID,
		Allow:        allow,
		SortIndex:    sortIndex,
		Description:  req.Description,
		OwnerID:      ownerID,
	}

	if !req.User.IsZero() {
		user, err := s.principals.GetUser(ctx, req.User)
		if err != nil {
			return nil, &entities.InvalidAceError{Reason: fmt.Sprintf("user %s cannot be resolved", req.User), Cause: err}
		}
		ace.UserID = &user.ID
	} else {
		group, err := s.principals.GetGroup(ctx, req.Group)
		if err != nil {
			return nil, &entities.InvalidAceError{Reason: fmt.Sprintf("group %s cannot be resolved", req.Group), Cause: err}
		}
		ace.GroupID = &group.ID
	}

	if err := s.aces.Create(ctx, ace); err != nil {
		switch {
		case errors.Is(err, repositories.ErrDuplicate):
			return nil, &entities.InvalidAceError{Reason: "principal already has an entry for this permission", Cause: err}
		case errors.Is(err, repositories.ErrNotFound):
			return nil, &entities.ResourceNotFoundError{ID: node.ID}
		case errors.Is(err, entities.ErrInvalidAce):
			return nil, err
		}
		return nil, fmt.Errorf("failed to store ACE: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"resource_id": node.ID,
		"principal":   ace.PrincipalKey(),
		"permission":  perm.Name,
		"effect":      ace.Effect().String(),
	}).Info("added ACE")
	s.invalidate(ctx)
	return ace, nil
}

// Aces returns the stored ACEs of node ordered by (allow, sort index, id)
func (s *Service) Aces(ctx context.Context, node *entities.ResourceNode) ([]*entities.Ace, error) {
	return s.aces.ListByResource(ctx, node.ID)
}

// RemoveAce deletes one ACE
func (s *Service) RemoveAce(ctx context.Context, aceID int64) error {
	if err := s.aces.Delete(ctx, aceID); err != nil {
		return fmt.Errorf("failed to remove ACE %d: %w", aceID, err)
	}
	s.invalidate(ctx)
	return nil
}

// UpdateAce rewrites the effect, sort index and description of a stored ACE.
// Principal, permission and resource are fixed once created.
func (s *Service) UpdateAce(ctx context.Context, ace *entities.Ace) error {
	if err := s.aces.Update(ctx, ace); err != nil {
		return fmt.Errorf("failed to update ACE %d: %w", ace.ID, err)
	}
	s.invalidate(ctx)
	return nil
}
