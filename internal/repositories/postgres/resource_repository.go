package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PostgresResourceRepository implements ResourceRepository using PostgreSQL
type PostgresResourceRepository struct {
	db *sql.DB
}

// NewPostgresResourceRepository creates a new PostgreSQL resource repository
func NewPostgresResourceRepository(db *sql.DB) repositories.ResourceRepository {
	return &PostgresResourceRepository{db: db}
}

const resourceColumns = `id, parent_id, name, title, short_title, slug, kind, sortix, iface,
	tenant_id, fs_root_id, rev, mime_type, size, owner_id, editor_id, created_at, updated_at`

// fsColumns holds the nullable filesystem columns of a node
type fsColumns struct {
	tenantID sql.NullInt64
	fsRootID sql.NullInt64
	rev      sql.NullInt32
	mimeType sql.NullString
	size     sql.NullInt64
}

func fsColumnsOf(k entities.Kind) fsColumns {
	if k.Fs == nil {
		return fsColumns{}
	}
	return fsColumns{
		tenantID: sql.NullInt64{Int64: k.Fs.TenantID, Valid: true},
		fsRootID: sql.NullInt64{Int64: k.Fs.FsRootID, Valid: true},
		rev:      sql.NullInt32{Int32: int32(k.Fs.Rev), Valid: true},
		mimeType: sql.NullString{String: k.Fs.MimeType, Valid: true},
		size:     sql.NullInt64{Int64: k.Fs.Size, Valid: true},
	}
}

// Create inserts a node
func (r *PostgresResourceRepository) Create(ctx context.Context, node *entities.ResourceNode) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid resource node: %w", err)
	}

	fs := fsColumnsOf(node.Kind)
	query := `
		INSERT INTO resource_tree (
			parent_id, name, title, short_title, slug, kind, sortix, iface,
			tenant_id, fs_root_id, rev, mime_type, size, owner_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		nullInt64(node.ParentID), node.Name, node.Title, node.ShortTitle, node.Slug,
		node.Kind.Name(), node.SortIndex, string(node.Iface),
		fs.tenantID, fs.fsRootID, fs.rev, fs.mimeType, fs.size, node.OwnerID,
	).Scan(&node.ID, &node.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("resource '%s': %w", node.Name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

// GetByID retrieves a node by ID
func (r *PostgresResourceRepository) GetByID(ctx context.Context, id int64) (*entities.ResourceNode, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resource_tree WHERE id = $1`, id)
	n, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %d: %w", id, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return n, nil
}

// FindRoot retrieves a root node by name
func (r *PostgresResourceRepository) FindRoot(ctx context.Context, name string) (*entities.ResourceNode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+resourceColumns+` FROM resource_tree
		WHERE parent_id IS NULL AND name = $1
		ORDER BY id
		LIMIT 1
	`, name)
	n, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("root resource '%s': %w", name, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find root resource: %w", err)
	}
	return n, nil
}

// FindChild retrieves a child by name
func (r *PostgresResourceRepository) FindChild(ctx context.Context, parentID int64, name string) (*entities.ResourceNode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+resourceColumns+` FROM resource_tree
		WHERE parent_id = $1 AND name = $2
	`, parentID, name)
	n, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource '%s' below %d: %w", name, parentID, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find child resource: %w", err)
	}
	return n, nil
}

// ListChildren returns the children ordered by sort index, then name
func (r *PostgresResourceRepository) ListChildren(ctx context.Context, parentID int64) ([]*entities.ResourceNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+resourceColumns+` FROM resource_tree
		WHERE parent_id = $1
		ORDER BY sortix, name
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var nodes []*entities.ResourceNode
	for rows.Next() {
		n, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating children: %w", err)
	}
	return nodes, nil
}

// Update persists a changed node. The editor is checked before anything is written.
func (r *PostgresResourceRepository) Update(ctx context.Context, node *entities.ResourceNode) error {
	if err := node.CheckEditor(); err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid resource node: %w", err)
	}

	fs := fsColumnsOf(node.Kind)
	var updatedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		UPDATE resource_tree SET
			parent_id = $2, name = $3, title = $4, short_title = $5, slug = $6,
			kind = $7, sortix = $8, iface = $9,
			tenant_id = $10, fs_root_id = $11, rev = $12, mime_type = $13, size = $14,
			editor_id = $15, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, node.ID, nullInt64(node.ParentID), node.Name, node.Title, node.ShortTitle, node.Slug,
		node.Kind.Name(), node.SortIndex, string(node.Iface),
		fs.tenantID, fs.fsRootID, fs.rev, fs.mimeType, fs.size, nullInt64(node.EditorID),
	).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("resource %d: %w", node.ID, repositories.ErrNotFound)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("resource '%s': %w", node.Name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to update resource: %w", err)
	}
	if updatedAt.Valid {
		node.UpdatedAt = &updatedAt.Time
	}
	return nil
}

// Delete removes a node; descendants and ACEs go with it via ON DELETE CASCADE
func (r *PostgresResourceRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resource_tree WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("resource %d: %w", id, repositories.ErrNotFound)
	}
	return nil
}

func scanResource(s scanner) (*entities.ResourceNode, error) {
	var (
		n         entities.ResourceNode
		parentID  sql.NullInt64
		kind      string
		iface     string
		fs        fsColumns
		editorID  sql.NullInt64
		updatedAt sql.NullTime
	)
	err := s.Scan(&n.ID, &parentID, &n.Name, &n.Title, &n.ShortTitle, &n.Slug, &kind, &n.SortIndex, &iface,
		&fs.tenantID, &fs.fsRootID, &fs.rev, &fs.mimeType, &fs.size,
		&n.OwnerID, &editorID, &n.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	n.ParentID = int64PtrFromNull(parentID)
	n.EditorID = int64PtrFromNull(editorID)
	n.Iface = entities.Iface(iface)
	if updatedAt.Valid {
		n.UpdatedAt = &updatedAt.Time
	}
	if kind == entities.KindNameFs && fs.mimeType.Valid {
		n.Kind = entities.KindFs(entities.FsAttrs{
			TenantID: fs.tenantID.Int64,
			FsRootID: fs.fsRootID.Int64,
			Rev:      int(fs.rev.Int32),
			MimeType: fs.mimeType.String,
			Size:     fs.size.Int64,
		})
	} else {
		n.Kind = entities.KindNamed(kind)
	}
	return &n, nil
}
