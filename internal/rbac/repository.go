package rbac

import "context"

// Store defines the entity-store operations the RBAC services depend on.
// The pgx implementation lives in repo.sql.go; tests substitute stubs.
type Store interface {
	// Roles.
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, activeOnly bool) ([]Role, error)
	ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	SetRoleActive(ctx context.Context, id int64, active bool) error
	DeleteRole(ctx context.Context, id int64) error
	ActiveRoleNameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	CountRoleReferences(ctx context.Context, roleID int64) (int64, error)

	// Permissions.
	GetPermission(ctx context.Context, id int64) (Permission, error)
	ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error)
	ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	SetPermissionActive(ctx context.Context, id int64, active bool) error
	DeletePermission(ctx context.Context, id int64) error
	ActivePermissionNameExists(ctx context.Context, name string, excludeID int64) (bool, error)
	ActivePermissionPairExists(ctx context.Context, resource, action string, excludeID int64) (bool, error)
	CountPermissionReferences(ctx context.Context, permissionID int64) (int64, error)

	// Edges. List methods return edges in every validity state; callers
	// filter with Valid.
	ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error)
	GetUserRoleEdge(ctx context.Context, userID, roleID int64) (UserRole, error)
	SaveUserRole(ctx context.Context, edge UserRole) error
	DeactivateUserRole(ctx context.Context, userID, roleID int64) (bool, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error)
	GetRolePermissionEdge(ctx context.Context, roleID, permissionID int64) (RolePermission, error)
	SaveRolePermission(ctx context.Context, edge RolePermission) error
	DeactivateRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	ListRoleUserIDs(ctx context.Context, roleID int64) ([]int64, error)

	// Users. The resolver only needs existence and active state.
	UserIsActive(ctx context.Context, userID int64) (bool, error)
}
