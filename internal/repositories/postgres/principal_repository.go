package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asakaida/restree/internal/entities"
	"github.com/asakaida/restree/internal/repositories"
)

// PostgresPrincipalRepository implements PrincipalRepository using PostgreSQL
type PostgresPrincipalRepository struct {
	db *sql.DB
}

// NewPostgresPrincipalRepository creates a new PostgreSQL principal repository
func NewPostgresPrincipalRepository(db *sql.DB) repositories.PrincipalRepository {
	return &PostgresPrincipalRepository{db: db}
}

// CreateUser inserts a user
func (r *PostgresPrincipalRepository) CreateUser(ctx context.Context, user *entities.User) error {
	if user.Principal == "" {
		return fmt.Errorf("user principal is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if user.ID != 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (id, principal, email, display_name, is_enabled, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, user.ID, user.Principal, user.Email, user.DisplayName, user.IsEnabled, user.OwnerID).Scan(&user.CreatedAt)
		if err == nil {
			err = syncSequence(ctx, tx, "users")
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (principal, email, display_name, is_enabled, owner_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, user.Principal, user.Email, user.DisplayName, user.IsEnabled, user.OwnerID).Scan(&user.ID, &user.CreatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user '%s': %w", user.Principal, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateGroup inserts a group
func (r *PostgresPrincipalRepository) CreateGroup(ctx context.Context, group *entities.Group) error {
	if group.Name == "" {
		return fmt.Errorf("group name is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if group.ID != 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO groups (id, tenant_id, name, kind, descr, owner_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING created_at
		`, group.ID, nullInt64(group.TenantID), group.Name, group.Kind, group.Description, group.OwnerID).Scan(&group.CreatedAt)
		if err == nil {
			err = syncSequence(ctx, tx, "groups")
		}
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO groups (tenant_id, name, kind, descr, owner_id)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, nullInt64(group.TenantID), group.Name, group.Kind, group.Description, group.OwnerID).Scan(&group.ID, &group.CreatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("group '%s': %w", group.Name, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AddMember inserts a membership
func (r *PostgresPrincipalRepository) AddMember(ctx context.Context, member *entities.GroupMember) error {
	if err := member.Validate(); err != nil {
		return err
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO group_member (group_id, member_user_id, member_group_id, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, member.GroupID, nullInt64(member.MemberUserID), nullInt64(member.MemberGroupID), member.OwnerID).Scan(&member.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("membership in group %d: %w", member.GroupID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// GetUser resolves a user by ID or principal (case insensitive)
func (r *PostgresPrincipalRepository) GetUser(ctx context.Context, ref entities.Ref) (*entities.User, error) {
	query := `SELECT id, principal, email, display_name, is_enabled, owner_id, created_at FROM users `
	var row *sql.Row
	if ref.IsID() {
		row = r.db.QueryRowContext(ctx, query+`WHERE id = $1`, ref.ID)
	} else {
		row = r.db.QueryRowContext(ctx, query+`WHERE LOWER(principal) = LOWER($1)`, ref.Name)
	}

	var u entities.User
	err := row.Scan(&u.ID, &u.Principal, &u.Email, &u.DisplayName, &u.IsEnabled, &u.OwnerID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", ref, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetGroup resolves a group by ID or name
func (r *PostgresPrincipalRepository) GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error) {
	query := `SELECT id, tenant_id, name, kind, descr, owner_id, created_at FROM groups `
	var row *sql.Row
	if ref.IsID() {
		row = r.db.QueryRowContext(ctx, query+`WHERE id = $1`, ref.ID)
	} else {
		row = r.db.QueryRowContext(ctx, query+`WHERE name = $1 ORDER BY id LIMIT 1`, ref.Name)
	}

	var (
		g        entities.Group
		tenantID sql.NullInt64
	)
	err := row.Scan(&g.ID, &tenantID, &g.Name, &g.Kind, &g.Description, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", ref, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g.TenantID = int64PtrFromNull(tenantID)
	return &g, nil
}

// DirectGroupsOfUser returns the groups the user is a direct member of
func (r *PostgresPrincipalRepository) DirectGroupsOfUser(ctx context.Context, userID int64) ([]int64, error) {
	return r.queryIDs(ctx, `
		SELECT group_id FROM group_member WHERE member_user_id = $1 ORDER BY group_id
	`, userID)
}

// ParentGroupsOfGroup returns the groups that directly contain the group
func (r *PostgresPrincipalRepository) ParentGroupsOfGroup(ctx context.Context, groupID int64) ([]int64, error) {
	return r.queryIDs(ctx, `
		SELECT group_id FROM group_member WHERE member_group_id = $1 ORDER BY group_id
	`, groupID)
}

func (r *PostgresPrincipalRepository) queryIDs(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query group membership: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group membership: %w", err)
	}
	return ids, nil
}
