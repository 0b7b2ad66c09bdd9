package rbac

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/keystone-id/keystone/internal/platform/cache"
	"github.com/keystone-id/keystone/internal/shared"
)

// RoleInput carries the writable fields of a role.
type RoleInput struct {
	Name        string `validate:"required,min=2,max=100"`
	Description string `validate:"max=500"`
	Category    string `validate:"max=100"`
	Priority    int    `validate:"gte=0"`
	IsSystem    bool
}

// PermissionInput carries the writable fields of a permission.
type PermissionInput struct {
	Resource    string `validate:"required,min=2,max=100,excludes=."`
	Action      string `validate:"required,min=2,max=100"`
	Description string `validate:"max=500"`
	Category    string `validate:"max=100"`
	Priority    int    `validate:"gte=0"`
	IsSystem    bool
}

// Registry owns role and permission lifecycle: CRUD, activate/deactivate,
// uniqueness among active rows, and system-entity guards.
type Registry struct {
	store    Store
	cache    *cache.Cache
	audit    *shared.AuditRecorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewRegistry constructs a Registry.
func NewRegistry(store Store, c *cache.Cache, audit *shared.AuditRecorder, logger *slog.Logger) *Registry {
	return &Registry{store: store, cache: c, audit: audit, logger: logger, validate: validator.New()}
}

// GetRole fetches a role by id, read-through cached.
func (g *Registry) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := g.cache.GetOrSet(ctx, cache.KeyRole(id), &role, func(ctx context.Context) (any, error) {
		return g.store.GetRole(ctx, id)
	})
	return role, err
}

// ListRoles returns active roles, read-through cached.
func (g *Registry) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	err := g.cache.GetOrSet(ctx, cache.KeyRolesAll(), &roles, func(ctx context.Context) (any, error) {
		return g.store.ListRoles(ctx, true)
	})
	return roles, err
}

// CreateRole inserts a new role after validating input and name uniqueness
// among active rows. A deactivated role holding the same name does not block
// the create.
func (g *Registry) CreateRole(ctx context.Context, actorID int64, in RoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := g.validate.Struct(in); err != nil {
		return Role{}, shared.Validationf("rbac: role input: %v", err)
	}
	taken, err := g.store.ActiveRoleNameExists(ctx, in.Name, 0)
	if err != nil {
		return Role{}, err
	}
	if taken {
		return Role{}, shared.Conflictf("rbac: active role %q already exists", in.Name)
	}
	role, err := g.store.CreateRole(ctx, Role{
		Name:         in.Name,
		Description:  strings.TrimSpace(in.Description),
		Category:     strings.TrimSpace(in.Category),
		Priority:     in.Priority,
		IsSystemRole: in.IsSystem,
	})
	if err != nil {
		return Role{}, err
	}
	g.bustRole(ctx, role.ID)
	g.emit(ctx, actorID, "role.create", "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole edits a role. System roles reject identity-field changes.
func (g *Registry) UpdateRole(ctx context.Context, actorID, id int64, in RoleInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := g.validate.Struct(in); err != nil {
		return Role{}, shared.Validationf("rbac: role input: %v", err)
	}
	current, err := g.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.IsSystemRole && in.Name != current.Name {
		return Role{}, shared.ErrSystemEntity
	}
	taken, err := g.store.ActiveRoleNameExists(ctx, in.Name, id)
	if err != nil {
		return Role{}, err
	}
	if taken {
		return Role{}, shared.Conflictf("rbac: active role %q already exists", in.Name)
	}
	role, err := g.store.UpdateRole(ctx, Role{
		ID:          id,
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Priority:    in.Priority,
	})
	if err != nil {
		return Role{}, err
	}
	g.bustRole(ctx, id)
	g.emit(ctx, actorID, "role.update", "role", id, map[string]any{"name": role.Name})
	return role, nil
}

// DeactivateRole soft-deletes the role. Edges survive but stop contributing
// to resolution, so every holder's permission set shrinks immediately.
func (g *Registry) DeactivateRole(ctx context.Context, actorID, id int64) error {
	return g.setRoleActive(ctx, actorID, id, false, "role.deactivate")
}

// ActivateRole restores a deactivated role.
func (g *Registry) ActivateRole(ctx context.Context, actorID, id int64) error {
	role, err := g.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	taken, err := g.store.ActiveRoleNameExists(ctx, role.Name, id)
	if err != nil {
		return err
	}
	if taken {
		return shared.Conflictf("rbac: active role %q already exists", role.Name)
	}
	return g.setRoleActive(ctx, actorID, id, true, "role.activate")
}

func (g *Registry) setRoleActive(ctx context.Context, actorID, id int64, active bool, action string) error {
	if err := g.store.SetRoleActive(ctx, id, active); err != nil {
		return err
	}
	g.bustRole(ctx, id)
	g.bustRoleHolders(ctx, id)
	g.emit(ctx, actorID, action, "role", id, nil)
	return nil
}

// DeleteRole hard-deletes a role. Only permitted when no edges reference it;
// otherwise callers must deactivate instead. System roles always refuse.
func (g *Registry) DeleteRole(ctx context.Context, actorID, id int64) error {
	role, err := g.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		return shared.ErrSystemEntity
	}
	refs, err := g.store.CountRoleReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return shared.Conflictf("rbac: role %q has %d referencing edges", role.Name, refs)
	}
	if err := g.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	g.bustRole(ctx, id)
	g.emit(ctx, actorID, "role.delete", "role", id, map[string]any{"name": role.Name})
	return nil
}

// GetPermission fetches a permission by id, read-through cached.
func (g *Registry) GetPermission(ctx context.Context, id int64) (Permission, error) {
	var perm Permission
	err := g.cache.GetOrSet(ctx, cache.KeyPermission(id), &perm, func(ctx context.Context) (any, error) {
		return g.store.GetPermission(ctx, id)
	})
	return perm, err
}

// ListPermissions returns active permissions, read-through cached.
func (g *Registry) ListPermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	err := g.cache.GetOrSet(ctx, cache.KeyPermissionsAll(), &perms, func(ctx context.Context) (any, error) {
		return g.store.ListPermissions(ctx, true)
	})
	return perms, err
}

// CreatePermission inserts a new permission. The name is derived from the
// resource/action pair; both the name and the pair must be unique among
// active rows.
func (g *Registry) CreatePermission(ctx context.Context, actorID int64, in PermissionInput) (Permission, error) {
	in.Resource = strings.TrimSpace(in.Resource)
	in.Action = strings.TrimSpace(in.Action)
	if err := g.validate.Struct(in); err != nil {
		return Permission{}, shared.Validationf("rbac: permission input: %v", err)
	}
	name := PermissionKey{Resource: in.Resource, Action: in.Action}.String()
	if err := g.checkPermissionUnique(ctx, name, in.Resource, in.Action, 0); err != nil {
		return Permission{}, err
	}
	perm, err := g.store.CreatePermission(ctx, Permission{
		Name:               name,
		Resource:           in.Resource,
		Action:             in.Action,
		Description:        strings.TrimSpace(in.Description),
		Category:           strings.TrimSpace(in.Category),
		Priority:           in.Priority,
		IsSystemPermission: in.IsSystem,
	})
	if err != nil {
		return Permission{}, err
	}
	g.bustPermission(ctx, perm.ID)
	g.emit(ctx, actorID, "permission.create", "permission", perm.ID, map[string]any{"name": perm.Name})
	return perm, nil
}

// UpdatePermission edits a permission. System permissions reject changes to
// their resource/action identity.
func (g *Registry) UpdatePermission(ctx context.Context, actorID, id int64, in PermissionInput) (Permission, error) {
	in.Resource = strings.TrimSpace(in.Resource)
	in.Action = strings.TrimSpace(in.Action)
	if err := g.validate.Struct(in); err != nil {
		return Permission{}, shared.Validationf("rbac: permission input: %v", err)
	}
	current, err := g.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if current.IsSystemPermission && (in.Resource != current.Resource || in.Action != current.Action) {
		return Permission{}, shared.ErrSystemEntity
	}
	name := PermissionKey{Resource: in.Resource, Action: in.Action}.String()
	if err := g.checkPermissionUnique(ctx, name, in.Resource, in.Action, id); err != nil {
		return Permission{}, err
	}
	perm, err := g.store.UpdatePermission(ctx, Permission{
		ID:          id,
		Name:        name,
		Resource:    in.Resource,
		Action:      in.Action,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Priority:    in.Priority,
	})
	if err != nil {
		return Permission{}, err
	}
	g.bustPermission(ctx, id)
	g.emit(ctx, actorID, "permission.update", "permission", id, map[string]any{"name": perm.Name})
	return perm, nil
}

func (g *Registry) checkPermissionUnique(ctx context.Context, name, resource, action string, excludeID int64) error {
	taken, err := g.store.ActivePermissionNameExists(ctx, name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return shared.Conflictf("rbac: active permission %q already exists", name)
	}
	taken, err = g.store.ActivePermissionPairExists(ctx, resource, action, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return shared.Conflictf("rbac: active permission for %s.%s already exists", resource, action)
	}
	return nil
}

// DeactivatePermission soft-deletes the permission.
func (g *Registry) DeactivatePermission(ctx context.Context, actorID, id int64) error {
	if err := g.store.SetPermissionActive(ctx, id, false); err != nil {
		return err
	}
	g.bustPermission(ctx, id)
	g.emit(ctx, actorID, "permission.deactivate", "permission", id, nil)
	return nil
}

// ActivatePermission restores a deactivated permission.
func (g *Registry) ActivatePermission(ctx context.Context, actorID, id int64) error {
	perm, err := g.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if err := g.checkPermissionUnique(ctx, perm.Name, perm.Resource, perm.Action, id); err != nil {
		return err
	}
	if err := g.store.SetPermissionActive(ctx, id, true); err != nil {
		return err
	}
	g.bustPermission(ctx, id)
	g.emit(ctx, actorID, "permission.activate", "permission", id, nil)
	return nil
}

// DeletePermission hard-deletes a permission when nothing references it.
func (g *Registry) DeletePermission(ctx context.Context, actorID, id int64) error {
	perm, err := g.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystemPermission {
		return shared.ErrSystemEntity
	}
	refs, err := g.store.CountPermissionReferences(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return shared.Conflictf("rbac: permission %q has %d referencing edges", perm.Name, refs)
	}
	if err := g.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	g.bustPermission(ctx, id)
	g.emit(ctx, actorID, "permission.delete", "permission", id, map[string]any{"name": perm.Name})
	return nil
}

func (g *Registry) bustPermission(ctx context.Context, permissionID int64) {
	if err := g.cache.InvalidatePermission(ctx, permissionID); err != nil && g.logger != nil {
		g.logger.Warn("invalidate permission cache", slog.Int64("permission_id", permissionID), slog.Any("error", err))
	}
}

func (g *Registry) bustRole(ctx context.Context, roleID int64) {
	if err := g.cache.InvalidateRole(ctx, roleID); err != nil && g.logger != nil {
		g.logger.Warn("invalidate role cache", slog.Int64("role_id", roleID), slog.Any("error", err))
	}
}

// bustRoleHolders invalidates the derived sets of every user with an edge to
// the role so activation changes surface immediately.
func (g *Registry) bustRoleHolders(ctx context.Context, roleID int64) {
	userIDs, err := g.store.ListRoleUserIDs(ctx, roleID)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("list role users for invalidation", slog.Int64("role_id", roleID), slog.Any("error", err))
		}
		return
	}
	for _, userID := range userIDs {
		if err := g.cache.InvalidateUser(ctx, userID); err != nil && g.logger != nil {
			g.logger.Warn("invalidate user cache", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}

func (g *Registry) emit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if g.audit == nil {
		return
	}
	g.audit.Emit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
