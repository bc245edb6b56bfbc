package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PostgresPermissionRepository implements PermissionRepository using PostgreSQL
type PostgresPermissionRepository struct {
	db *sql.DB
}

// NewPostgresPermissionRepository creates a new PostgreSQL permission repository
func NewPostgresPermissionRepository(db *sql.DB) repositories.PermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

const permissionColumns = `id, parent_id, name, descr, owner_id, created_at`

// Create inserts a permission. A preset ID is kept and the sequence moved past it.
func (r *PostgresPermissionRepository) Create(ctx context.Context, perm *entities.PermissionNode) error {
	if perm.Name == "" {
		return fmt.Errorf("permission name is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if perm.ID != 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO permission_tree (id, parent_id, name, descr, owner_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, perm.ID, nullInt64(perm.ParentID), perm.Name, perm.Description, perm.OwnerID).Scan(&perm.CreatedAt)
		if err == nil {
			err = syncSequence(ctx, tx, "permission_tree")
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO permission_tree (parent_id, name, descr, owner_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, nullInt64(perm.ParentID), perm.Name, perm.Description, perm.OwnerID).Scan(&perm.ID, &perm.CreatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("permission '%s': %w", perm.Name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create permission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns all permissions ordered by ID
func (r *PostgresPermissionRepository) List(ctx context.Context) ([]*entities.PermissionNode, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+permissionColumns+` FROM permission_tree ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []*entities.PermissionNode
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permissions: %w", err)
	}
	return perms, nil
}

// GetByID retrieves a permission by ID
func (r *PostgresPermissionRepository) GetByID(ctx context.Context, id int64) (*entities.PermissionNode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permission_tree WHERE id = $1`, id)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %d: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// GetByName retrieves a permission by name
func (r *PostgresPermissionRepository) GetByName(ctx context.Context, name string) (*entities.PermissionNode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permission_tree WHERE name = $1`, name)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission '%s': %w", name, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

func scanPermission(s scanner) (*entities.PermissionNode, error) {
	var (
		p        entities.PermissionNode
		parentID sql.NullInt64
	)
	if err := s.Scan(&p.ID, &parentID, &p.Name, &p.Description, &p.OwnerID, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ParentID = int64PtrFromNull(parentID)
	return &p, nil
}

// syncSequence moves a BIGSERIAL sequence past explicitly inserted IDs
func syncSequence(ctx context.Context, tx *sql.Tx, table string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT MAX(id) FROM %s), 1))`,
		table, table))
	if err != nil {
		return fmt.Errorf("failed to sync %s sequence: %w", table, err)
	}
	return nil
}
