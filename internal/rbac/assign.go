package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/keystone-id/keystone/internal/platform/cache"
	"github.com/keystone-id/keystone/internal/shared"
)

// AssignRoleInput carries assignment metadata for a user-role edge.
type AssignRoleInput struct {
	UserID             int64
	RoleID             int64
	AssignedBy         int64
	ExpiresAt          *time.Time
	AssignmentReason   string
	AssignmentCategory string
	Priority           int
	IsTemporary        bool
	Notes              string
}

// AssignPermissionInput carries assignment metadata for a role-permission edge.
type AssignPermissionInput struct {
	RoleID       int64
	PermissionID int64
	AssignedBy   int64
	IsGranted    bool
	ExpiresAt    *time.Time
}

// AssignmentManager mutates user-role and role-permission edges, keeping the
// cache coherent and emitting best-effort audit records.
type AssignmentManager struct {
	store  Store
	cache  *cache.Cache
	audit  *shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewAssignmentManager constructs an AssignmentManager.
func NewAssignmentManager(store Store, c *cache.Cache, audit *shared.AuditRecorder, logger *slog.Logger) *AssignmentManager {
	return &AssignmentManager{store: store, cache: c, audit: audit, logger: logger, now: time.Now}
}

// AssignRoleToUser creates or reactivates the (user, role) edge. Assigning
// an existing edge in any state reactivates it with the new metadata, so the
// call is idempotent and never duplicates rows.
func (m *AssignmentManager) AssignRoleToUser(ctx context.Context, in AssignRoleInput) error {
	active, err := m.store.UserIsActive(ctx, in.UserID)
	if err != nil {
		return err
	}
	if !active {
		return shared.Inactivef("rbac: user %d", in.UserID)
	}
	role, err := m.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return shared.Inactivef("rbac: role %q", role.Name)
	}

	// Distinguish a fresh grant from a reactivated one in the audit trail;
	// the upsert below treats both the same.
	reactivated := false
	if existing, err := m.store.GetUserRoleEdge(ctx, in.UserID, in.RoleID); err == nil {
		reactivated = !existing.IsActive
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	edge := UserRole{
		UserID:             in.UserID,
		RoleID:             in.RoleID,
		IsActive:           true,
		AssignedAt:         m.now().UTC(),
		AssignedBy:         in.AssignedBy,
		ExpiresAt:          in.ExpiresAt,
		AssignmentReason:   in.AssignmentReason,
		AssignmentCategory: in.AssignmentCategory,
		Priority:           in.Priority,
		IsTemporary:        in.IsTemporary,
		Notes:              in.Notes,
	}
	if err := m.store.SaveUserRole(ctx, edge); err != nil {
		return err
	}

	m.invalidateUser(ctx, in.UserID)
	m.emit(ctx, in.AssignedBy, "role.assign", "user_role", edgeID(in.UserID, in.RoleID), map[string]any{
		"user_id":     in.UserID,
		"role_id":     in.RoleID,
		"reason":      in.AssignmentReason,
		"reactivated": reactivated,
	})
	return nil
}

// RemoveRoleFromUser soft-deactivates the edge; the row is preserved for
// history. Returns ErrNotFound when no active edge exists.
func (m *AssignmentManager) RemoveRoleFromUser(ctx context.Context, userID, roleID, removedBy int64) error {
	changed, err := m.store.DeactivateUserRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if !changed {
		return shared.NotFoundf("rbac: active edge user %d role %d", userID, roleID)
	}

	m.invalidateUser(ctx, userID)
	m.emit(ctx, removedBy, "role.remove", "user_role", edgeID(userID, roleID), map[string]any{
		"user_id": userID,
		"role_id": roleID,
	})
	return nil
}

// AssignPermissionToRole creates or reactivates the (role, permission) edge
// with the same reactivate-or-insert semantics as role assignment.
func (m *AssignmentManager) AssignPermissionToRole(ctx context.Context, in AssignPermissionInput) error {
	role, err := m.store.GetRole(ctx, in.RoleID)
	if err != nil {
		return err
	}
	if !role.IsActive {
		return shared.Inactivef("rbac: role %q", role.Name)
	}
	perm, err := m.store.GetPermission(ctx, in.PermissionID)
	if err != nil {
		return err
	}
	if !perm.IsActive {
		return shared.Inactivef("rbac: permission %q", perm.Name)
	}

	reactivated := false
	if existing, err := m.store.GetRolePermissionEdge(ctx, in.RoleID, in.PermissionID); err == nil {
		reactivated = !existing.IsActive
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	edge := RolePermission{
		RoleID:       in.RoleID,
		PermissionID: in.PermissionID,
		IsActive:     true,
		IsGranted:    in.IsGranted,
		AssignedAt:   m.now().UTC(),
		AssignedBy:   in.AssignedBy,
		ExpiresAt:    in.ExpiresAt,
	}
	if err := m.store.SaveRolePermission(ctx, edge); err != nil {
		return err
	}

	m.invalidateRole(ctx, in.RoleID)
	m.emit(ctx, in.AssignedBy, "permission.assign", "role_permission", edgeID(in.RoleID, in.PermissionID), map[string]any{
		"role_id":       in.RoleID,
		"permission_id": in.PermissionID,
		"is_granted":    in.IsGranted,
		"reactivated":   reactivated,
	})
	return nil
}

// RemovePermissionFromRole soft-deactivates the edge.
func (m *AssignmentManager) RemovePermissionFromRole(ctx context.Context, roleID, permissionID, removedBy int64) error {
	changed, err := m.store.DeactivateRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if !changed {
		return shared.NotFoundf("rbac: active edge role %d permission %d", roleID, permissionID)
	}

	m.invalidateRole(ctx, roleID)
	m.emit(ctx, removedBy, "permission.remove", "role_permission", edgeID(roleID, permissionID), map[string]any{
		"role_id":       roleID,
		"permission_id": permissionID,
	})
	return nil
}

// invalidateUser busts the user's derived keys. Invalidation failures are
// logged, not propagated: the next read recomputes or serves a stale entry
// until its TTL lapses.
func (m *AssignmentManager) invalidateUser(ctx context.Context, userID int64) {
	if err := m.cache.InvalidateUser(ctx, userID); err != nil && m.logger != nil {
		m.logger.Warn("invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// invalidateRole busts the role's keys plus the derived sets of every user
// holding an edge to the role.
func (m *AssignmentManager) invalidateRole(ctx context.Context, roleID int64) {
	if err := m.cache.InvalidateRole(ctx, roleID); err != nil && m.logger != nil {
		m.logger.Warn("invalidate role cache", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
	userIDs, err := m.store.ListRoleUserIDs(ctx, roleID)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("list role users for invalidation", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
		return
	}
	for _, userID := range userIDs {
		m.invalidateUser(ctx, userID)
	}
}

func (m *AssignmentManager) emit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func edgeID(a, b int64) string {
	return strconv.FormatInt(a, 10) + ":" + strconv.FormatInt(b, 10)
}
