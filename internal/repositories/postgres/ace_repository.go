package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PostgresAceRepository implements AceRepository using PostgreSQL
type PostgresAceRepository struct {
	db *sql.DB
}

// NewPostgresAceRepository creates a new PostgreSQL ACE repository
func NewPostgresAceRepository(db *sql.DB) repositories.AceRepository {
	return &PostgresAceRepository{db: db}
}

// Create inserts an ACE
func (r *PostgresAceRepository) Create(ctx context.Context, ace *entities.Ace) error {
	if err := ace.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO resource_acl (
			resource_id, user_id, group_id, permission_id, allow, sortix, descr, owner_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		ace.ResourceID, nullInt64(ace.UserID), nullInt64(ace.GroupID), ace.PermissionID,
		ace.Allow, ace.SortIndex, ace.Description, ace.OwnerID,
	).Scan(&ace.ID, &ace.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ace %s on resource %d: %w", ace.PrincipalKey(), ace.ResourceID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create ace: %w", err)
	}
	return nil
}

// ListByResource returns the ACEs of a node in evaluation order
func (r *PostgresAceRepository) ListByResource(ctx context.Context, resourceID int64) ([]*entities.Ace, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, resource_id, user_id, group_id, permission_id, allow, sortix, descr, owner_id, created_at
		FROM resource_acl
		WHERE resource_id = $1
		ORDER BY allow, sortix, id
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aces: %w", err)
	}
	defer rows.Close()

	var aces []*entities.Ace
	for rows.Next() {
		var (
			a       entities.Ace
			userID  sql.NullInt64
			groupID sql.NullInt64
		)
		err := rows.Scan(&a.ID, &a.ResourceID, &userID, &groupID, &a.PermissionID,
			&a.Allow, &a.SortIndex, &a.Description, &a.OwnerID, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ace: %w", err)
		}
		a.UserID = int64PtrFromNull(userID)
		a.GroupID = int64PtrFromNull(groupID)
		aces = append(aces, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aces: %w", err)
	}
	return aces, nil
}

// Update changes sort index, allow flag and description of an ACE
func (r *PostgresAceRepository) Update(ctx context.Context, ace *entities.Ace) error {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE resource_acl SET sortix = $2, allow = $3, descr = $4
		WHERE id = $1
		RETURNING id
	`, ace.ID, ace.SortIndex, ace.Allow, ace.Description).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ace %d: %w", ace.ID, repositories.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update ace: %w", err)
	}
	return nil
}

// Delete removes one ACE
func (r *PostgresAceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resource_acl WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ace: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ace %d: %w", id, repositories.ErrNotFound)
	}
	return nil
}
