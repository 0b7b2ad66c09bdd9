package rbac

import (
	"context"
	"sort"
	"time"

	"github.com/keystone-id/keystone/internal/platform/cache"
	"github.com/keystone-id/keystone/internal/shared"
)

// Resolver computes a user's effective roles and permissions from
// validity-filtered edges. It is stateless; the cache sits in front of each
// query and every value it holds can be recomputed from the store.
type Resolver struct {
	store Store
	cache *cache.Cache
	now   func() time.Time
}

// NewResolver constructs a Resolver. cache may be nil, in which case every
// call recomputes from the store.
func NewResolver(store Store, c *cache.Cache) *Resolver {
	return &Resolver{store: store, cache: c, now: time.Now}
}

// GetUserRoles returns the active, non-expired roles reachable via valid
// user-role edges, deduplicated by role id and sorted by (priority, id).
func (r *Resolver) GetUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	var roles []Role
	err := r.cache.GetOrSet(ctx, cache.KeyUserRoles(userID), &roles, func(ctx context.Context) (any, error) {
		return r.computeUserRoles(ctx, userID)
	})
	return roles, err
}

func (r *Resolver) computeUserRoles(ctx context.Context, userID int64) ([]Role, error) {
	edges, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	ids := make([]int64, 0, len(edges))
	seen := make(map[int64]struct{}, len(edges))
	for _, edge := range edges {
		if !edge.Valid(now) {
			continue
		}
		if _, ok := seen[edge.RoleID]; ok {
			continue
		}
		seen[edge.RoleID] = struct{}{}
		ids = append(ids, edge.RoleID)
	}
	candidates, err := r.store.ListRolesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(candidates))
	for _, role := range candidates {
		if role.IsActive {
			roles = append(roles, role)
		}
	}
	sortRoles(roles)
	return roles, nil
}

// GetRolePermissions returns the active permissions reachable via valid,
// granted role-permission edges for the single role.
func (r *Resolver) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var perms []Permission
	err := r.cache.GetOrSet(ctx, cache.KeyRolePermissions(roleID), &perms, func(ctx context.Context) (any, error) {
		return r.computeRolePermissions(ctx, roleID)
	})
	return perms, err
}

func (r *Resolver) computeRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	edges, err := r.store.ListRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	now := r.now()
	ids := make([]int64, 0, len(edges))
	for _, edge := range edges {
		// A non-granted edge means this role does not grant the permission.
		// It never subtracts grants contributed by other roles.
		if !edge.IsGranted || !edge.Valid(now) {
			continue
		}
		ids = append(ids, edge.PermissionID)
	}
	candidates, err := r.store.ListPermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(candidates))
	for _, perm := range candidates {
		if perm.IsActive {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

// GetUserPermissions returns the union of granted permissions across the
// user's valid roles, deduplicated by permission id.
func (r *Resolver) GetUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	var perms []Permission
	err := r.cache.GetOrSet(ctx, cache.KeyUserPermissions(userID), &perms, func(ctx context.Context) (any, error) {
		return r.computeUserPermissions(ctx, userID)
	})
	return perms, err
}

func (r *Resolver) computeUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	roles, err := r.computeUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	var union []Permission
	for _, role := range roles {
		perms, err := r.computeRolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, perm := range perms {
			if _, ok := seen[perm.ID]; ok {
				continue
			}
			seen[perm.ID] = struct{}{}
			union = append(union, perm)
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i].ID < union[j].ID })
	return union, nil
}

// UserHasPermission reports whether the user's effective permission set
// contains the resource/action pair.
func (r *Resolver) UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	perms, err := r.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if perm.Resource == resource && perm.Action == action {
			return true, nil
		}
	}
	return false, nil
}

// UserHasRole reports whether the user holds the named role.
func (r *Resolver) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	roles, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

// UserHasAnyRole reports whether the user holds at least one of the named roles.
func (r *Resolver) UserHasAnyRole(ctx context.Context, userID int64, roleNames ...string) (bool, error) {
	roles, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		held[role.Name] = struct{}{}
	}
	for _, name := range roleNames {
		if _, ok := held[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

// UserHasAllRoles reports whether the user holds every named role.
func (r *Resolver) UserHasAllRoles(ctx context.Context, userID int64, roleNames ...string) (bool, error) {
	roles, err := r.GetUserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		held[role.Name] = struct{}{}
	}
	for _, name := range roleNames {
		if _, ok := held[name]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// GetUserHighestRole returns the user's role with the lowest priority value.
// Ties break on role id so the result is reproducible.
func (r *Resolver) GetUserHighestRole(ctx context.Context, userID int64) (Role, error) {
	var role Role
	err := r.cache.GetOrSet(ctx, cache.KeyUserHighestRole(userID), &role, func(ctx context.Context) (any, error) {
		roles, err := r.computeUserRoles(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(roles) == 0 {
			return nil, shared.NotFoundf("rbac: user %d has no valid roles", userID)
		}
		return roles[0], nil
	})
	return role, err
}

func sortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority < roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})
}
