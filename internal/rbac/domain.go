package rbac

import (
	"strings"
	"time"

	"github.com/keystone-id/keystone/internal/shared"
)

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermJobsManage = "jobs.manage"
)

// Role represents a high-level permission grouping. Lower Priority values
// take precedence when selecting a user's highest role.
type Role struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Priority     int       `json:"priority"`
	IsSystemRole bool      `json:"is_system_role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission represents an atomic capability identified by a
// resource/action pair. Name is stored independently of the pair but
// follows the "{Resource}.{Action}" convention.
type Permission struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Resource           string    `json:"resource"`
	Action             string    `json:"action"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	Priority           int       `json:"priority"`
	IsSystemPermission bool      `json:"is_system_permission"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RolePermission ties a permission to a role. IsGranted false means the
// role does not grant the permission; it never subtracts a grant another
// role contributes.
type RolePermission struct {
	RoleID       int64      `json:"role_id"`
	PermissionID int64      `json:"permission_id"`
	IsActive     bool       `json:"is_active"`
	IsGranted    bool       `json:"is_granted"`
	AssignedAt   time.Time  `json:"assigned_at"`
	AssignedBy   int64      `json:"assigned_by"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// UserRole links a user to a role with assignment metadata.
type UserRole struct {
	UserID             int64      `json:"user_id"`
	RoleID             int64      `json:"role_id"`
	IsActive           bool       `json:"is_active"`
	AssignedAt         time.Time  `json:"assigned_at"`
	AssignedBy         int64      `json:"assigned_by"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	AssignmentReason   string     `json:"assignment_reason"`
	AssignmentCategory string     `json:"assignment_category"`
	Priority           int        `json:"priority"`
	IsTemporary        bool       `json:"is_temporary"`
	Notes              string     `json:"notes"`
}

// Validity is the tagged state derived from an edge's active flag and
// expiry. Only Active edges contribute to resolution.
type Validity int

const (
	// ValidityActive means the edge contributes to resolution.
	ValidityActive Validity = iota
	// ValidityDeactivated means the edge was soft-removed.
	ValidityDeactivated
	// ValidityExpired means the edge is past its expiry timestamp.
	ValidityExpired
)

// EdgeValidity computes the validity state at the given instant. The active
// flag and temporal expiry are independent gates; deactivation wins when
// both apply.
func EdgeValidity(isActive bool, expiresAt *time.Time, now time.Time) Validity {
	if !isActive {
		return ValidityDeactivated
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return ValidityExpired
	}
	return ValidityActive
}

// Valid reports whether the user-role edge contributes to resolution at now.
func (ur UserRole) Valid(now time.Time) bool {
	return EdgeValidity(ur.IsActive, ur.ExpiresAt, now) == ValidityActive
}

// Valid reports whether the role-permission edge contributes to resolution at now.
func (rp RolePermission) Valid(now time.Time) bool {
	return EdgeValidity(rp.IsActive, rp.ExpiresAt, now) == ValidityActive
}

// PermissionKey is the structured form of a "Resource.Action" string.
type PermissionKey struct {
	Resource string
	Action   string
}

// String renders the conventional "Resource.Action" encoding.
func (k PermissionKey) String() string {
	return k.Resource + "." + k.Action
}

// ParsePermissionKey splits a "Resource.Action" string, failing on malformed
// input instead of returning defaults. The action is everything after the
// first dot so dotted actions like "report.export.csv" keep their suffix.
func ParsePermissionKey(s string) (PermissionKey, error) {
	s = strings.TrimSpace(s)
	resource, action, found := strings.Cut(s, ".")
	if !found || resource == "" || action == "" {
		return PermissionKey{}, shared.Validationf("rbac: malformed permission key %q", s)
	}
	return PermissionKey{Resource: resource, Action: action}, nil
}

// Key returns the permission's structured resource/action pair.
func (p Permission) Key() PermissionKey {
	return PermissionKey{Resource: p.Resource, Action: p.Action}
}
