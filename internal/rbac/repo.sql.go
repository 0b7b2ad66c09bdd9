package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-id/keystone/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return shared.Conflictf("rbac: duplicate row")
	}
	return err
}

const roleColumns = `id, name, description, category, priority, is_system_role, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Category, &r.Priority, &r.IsSystemRole, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NotFoundf("rbac: role")
	}
	return r, err
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// ListRoles returns roles ordered by priority then id.
func (r *Repository) ListRoles(ctx context.Context, activeOnly bool) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY priority, id`
	if activeOnly {
		query = `SELECT ` + roleColumns + ` FROM roles WHERE is_active ORDER BY priority, id`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Category, &role.Priority, &role.IsSystemRole, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// ListRolesByIDs returns the roles with the given ids.
func (r *Repository) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ANY($1) ORDER BY priority, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Category, &role.Priority, &role.IsSystemRole, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole inserts a new role row.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO roles (name, description, category, priority, is_system_role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		RETURNING `+roleColumns,
		role.Name, role.Description, role.Category, role.Priority, role.IsSystemRole)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return created, nil
}

// UpdateRole updates mutable role fields.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, category = $4, priority = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.Category, role.Priority)
	updated, err := scanRole(row)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return updated, nil
}

// SetRoleActive toggles the soft-delete flag.
func (r *Repository) SetRoleActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rbac: role %d", id)
	}
	return nil
}

// DeleteRole removes a role row. Callers must check references first.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rbac: role %d", id)
	}
	return nil
}

// ActiveRoleNameExists reports whether an active role other than excludeID holds name.
func (r *Repository) ActiveRoleNameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE is_active AND name = $1 AND id <> $2)`, name, excludeID).Scan(&exists)
	return exists, err
}

// CountRoleReferences counts edges referencing the role in any state.
func (r *Repository) CountRoleReferences(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM user_roles WHERE role_id = $1)
		     + (SELECT COUNT(*) FROM role_permissions WHERE role_id = $1)`, roleID).Scan(&count)
	return count, err
}

const permColumns = `id, name, resource, action, description, category, priority, is_system_permission, is_active, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.Category, &p.Priority, &p.IsSystemPermission, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.NotFoundf("rbac: permission")
	}
	return p, err
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = $1`, id))
}

// ListPermissions returns permissions ordered by resource, action.
func (r *Repository) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	query := `SELECT ` + permColumns + ` FROM permissions ORDER BY resource, action, id`
	if activeOnly {
		query = `SELECT ` + permColumns + ` FROM permissions WHERE is_active ORDER BY resource, action, id`
	}
	return r.queryPermissions(ctx, query)
}

// ListPermissionsByIDs returns the permissions with the given ids.
func (r *Repository) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryPermissions(ctx, `SELECT `+permColumns+` FROM permissions WHERE id = ANY($1) ORDER BY resource, action, id`, ids)
}

func (r *Repository) queryPermissions(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.Category, &p.Priority, &p.IsSystemPermission, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// CreatePermission inserts a new permission row.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (name, resource, action, description, category, priority, is_system_permission, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW())
		RETURNING `+permColumns,
		perm.Name, perm.Resource, perm.Action, perm.Description, perm.Category, perm.Priority, perm.IsSystemPermission)
	created, err := scanPermission(row)
	if err != nil {
		return Permission{}, mapWriteError(err)
	}
	return created, nil
}

// UpdatePermission updates mutable permission fields.
func (r *Repository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE permissions SET name = $2, resource = $3, action = $4, description = $5, category = $6, priority = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+permColumns,
		perm.ID, perm.Name, perm.Resource, perm.Action, perm.Description, perm.Category, perm.Priority)
	updated, err := scanPermission(row)
	if err != nil {
		return Permission{}, mapWriteError(err)
	}
	return updated, nil
}

// SetPermissionActive toggles the soft-delete flag.
func (r *Repository) SetPermissionActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rbac: permission %d", id)
	}
	return nil
}

// DeletePermission removes a permission row. Callers must check references first.
func (r *Repository) DeletePermission(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("rbac: permission %d", id)
	}
	return nil
}

// ActivePermissionNameExists reports whether an active permission other than excludeID holds name.
func (r *Repository) ActivePermissionNameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE is_active AND name = $1 AND id <> $2)`, name, excludeID).Scan(&exists)
	return exists, err
}

// ActivePermissionPairExists reports whether an active permission other than
// excludeID holds the resource/action pair.
func (r *Repository) ActivePermissionPairExists(ctx context.Context, resource, action string, excludeID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM permissions WHERE is_active AND resource = $1 AND action = $2 AND id <> $3)`, resource, action, excludeID).Scan(&exists)
	return exists, err
}

// CountPermissionReferences counts role edges referencing the permission in any state.
func (r *Repository) CountPermissionReferences(ctx context.Context, permissionID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, permissionID).Scan(&count)
	return count, err
}

const userRoleColumns = `user_id, role_id, is_active, assigned_at, assigned_by, expires_at, assignment_reason, assignment_category, priority, is_temporary, notes`

// ListUserRoles returns every user-role edge for the user, any validity state.
func (r *Repository) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []UserRole
	for rows.Next() {
		var e UserRole
		if err := rows.Scan(&e.UserID, &e.RoleID, &e.IsActive, &e.AssignedAt, &e.AssignedBy, &e.ExpiresAt, &e.AssignmentReason, &e.AssignmentCategory, &e.Priority, &e.IsTemporary, &e.Notes); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

// GetUserRoleEdge fetches the edge for the (user, role) pair in any state.
func (r *Repository) GetUserRoleEdge(ctx context.Context, userID, roleID int64) (UserRole, error) {
	var e UserRole
	err := r.pool.QueryRow(ctx, `SELECT `+userRoleColumns+` FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID).
		Scan(&e.UserID, &e.RoleID, &e.IsActive, &e.AssignedAt, &e.AssignedBy, &e.ExpiresAt, &e.AssignmentReason, &e.AssignmentCategory, &e.Priority, &e.IsTemporary, &e.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRole{}, shared.NotFoundf("rbac: user role edge")
	}
	return e, err
}

// SaveUserRole upserts the edge on its composite key.
func (r *Repository) SaveUserRole(ctx context.Context, edge UserRole) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_roles (`+userRoleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			assigned_at = EXCLUDED.assigned_at,
			assigned_by = EXCLUDED.assigned_by,
			expires_at = EXCLUDED.expires_at,
			assignment_reason = EXCLUDED.assignment_reason,
			assignment_category = EXCLUDED.assignment_category,
			priority = EXCLUDED.priority,
			is_temporary = EXCLUDED.is_temporary,
			notes = EXCLUDED.notes`,
		edge.UserID, edge.RoleID, edge.IsActive, edge.AssignedAt, edge.AssignedBy, edge.ExpiresAt,
		edge.AssignmentReason, edge.AssignmentCategory, edge.Priority, edge.IsTemporary, edge.Notes)
	return mapWriteError(err)
}

// DeactivateUserRole soft-removes the edge, reporting whether a row changed.
func (r *Repository) DeactivateUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE user_roles SET is_active = FALSE WHERE user_id = $1 AND role_id = $2 AND is_active`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const rolePermColumns = `role_id, permission_id, is_active, is_granted, assigned_at, assigned_by, expires_at`

// ListRolePermissions returns every role-permission edge for the role, any state.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+rolePermColumns+` FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []RolePermission
	for rows.Next() {
		var e RolePermission
		if err := rows.Scan(&e.RoleID, &e.PermissionID, &e.IsActive, &e.IsGranted, &e.AssignedAt, &e.AssignedBy, &e.ExpiresAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

// GetRolePermissionEdge fetches the edge for the (role, permission) pair in any state.
func (r *Repository) GetRolePermissionEdge(ctx context.Context, roleID, permissionID int64) (RolePermission, error) {
	var e RolePermission
	err := r.pool.QueryRow(ctx, `SELECT `+rolePermColumns+` FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID).
		Scan(&e.RoleID, &e.PermissionID, &e.IsActive, &e.IsGranted, &e.AssignedAt, &e.AssignedBy, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RolePermission{}, shared.NotFoundf("rbac: role permission edge")
	}
	return e, err
}

// SaveRolePermission upserts the edge on its composite key.
func (r *Repository) SaveRolePermission(ctx context.Context, edge RolePermission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO role_permissions (`+rolePermColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (role_id, permission_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			is_granted = EXCLUDED.is_granted,
			assigned_at = EXCLUDED.assigned_at,
			assigned_by = EXCLUDED.assigned_by,
			expires_at = EXCLUDED.expires_at`,
		edge.RoleID, edge.PermissionID, edge.IsActive, edge.IsGranted, edge.AssignedAt, edge.AssignedBy, edge.ExpiresAt)
	return mapWriteError(err)
}

// DeactivateRolePermission soft-removes the edge, reporting whether a row changed.
func (r *Repository) DeactivateRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE role_permissions SET is_active = FALSE WHERE role_id = $1 AND permission_id = $2 AND is_active`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListRoleUserIDs returns ids of users holding any edge to the role.
func (r *Repository) ListRoleUserIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// UserIsActive reports whether the user exists and is active.
func (r *Repository) UserIsActive(ctx context.Context, userID int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, shared.NotFoundf("rbac: user %d", userID)
	}
	return active, err
}
