package cache

import (
	"strconv"
	"strings"
	"time"
)

// Default TTLs per key class. User-scoped entries churn with assignment
// changes and stay short; entity listings are more stable.
const (
	UserTTL   = 15 * time.Minute
	EntityTTL = 30 * time.Minute
)

// Key builders. Every derived key a mutation must invalidate appears in
// exactly one of the enumerated lists below.

// KeyUser identifies the cached user record.
func KeyUser(userID int64) string { return "user:" + formatID(userID) }

// KeyUserRoles identifies the user's resolved role set.
func KeyUserRoles(userID int64) string { return "user_roles:" + formatID(userID) }

// KeyUserPermissions identifies the user's resolved permission set.
func KeyUserPermissions(userID int64) string { return "user_permissions:" + formatID(userID) }

// KeyUserHighestRole identifies the user's highest-priority role.
func KeyUserHighestRole(userID int64) string { return "user_highest_role:" + formatID(userID) }

// KeyRole identifies a cached role record.
func KeyRole(roleID int64) string { return "role:" + formatID(roleID) }

// KeyRolePermissions identifies a role's granted permission set.
func KeyRolePermissions(roleID int64) string { return "role_permissions:" + formatID(roleID) }

// KeyPermission identifies a cached permission record.
func KeyPermission(permissionID int64) string { return "permission:" + formatID(permissionID) }

// KeyRolesAll identifies the active role listing.
func KeyRolesAll() string { return "roles:all" }

// KeyPermissionsAll identifies the active permission listing.
func KeyPermissionsAll() string { return "permissions:all" }

// UserKeys enumerates the keys invalidated when a user's assignments change.
func UserKeys(userID int64) []string {
	return []string{
		KeyUser(userID),
		KeyUserRoles(userID),
		KeyUserPermissions(userID),
		KeyUserHighestRole(userID),
	}
}

// RoleKeys enumerates the keys invalidated when a role or its permission
// grants change. User-derived sets are invalidated separately per affected
// user by the assignment manager.
func RoleKeys(roleID int64) []string {
	return []string{
		KeyRole(roleID),
		KeyRolePermissions(roleID),
		KeyRolesAll(),
	}
}

// PermissionKeys enumerates the keys invalidated when a permission changes.
func PermissionKeys(permissionID int64) []string {
	return []string{
		KeyPermission(permissionID),
		KeyPermissionsAll(),
	}
}

// TTLForKey resolves the TTL class from the key prefix.
func TTLForKey(key string) time.Duration {
	if strings.HasPrefix(key, "user:") || strings.HasPrefix(key, "user_") {
		return UserTTL
	}
	return EntityTTL
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
