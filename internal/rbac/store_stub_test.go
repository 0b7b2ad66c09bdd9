package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/keystone-id/keystone/internal/shared"
)

// stubStore is an in-memory Store for service tests.
type stubStore struct {
	mu        sync.Mutex
	roles     map[int64]Role
	perms     map[int64]Permission
	userRoles map[[2]int64]UserRole
	rolePerms map[[2]int64]RolePermission
	users     map[int64]bool
	nextID    int64

	listUserRolesCalls int
}

func newStubStore() *stubStore {
	return &stubStore{
		roles:     make(map[int64]Role),
		perms:     make(map[int64]Permission),
		userRoles: make(map[[2]int64]UserRole),
		rolePerms: make(map[[2]int64]RolePermission),
		users:     make(map[int64]bool),
		nextID:    1,
	}
}

func (s *stubStore) addRole(role Role) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == 0 {
		role.ID = s.nextID
		s.nextID++
	}
	s.roles[role.ID] = role
	return role
}

func (s *stubStore) addPermission(perm Permission) Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	if perm.ID == 0 {
		perm.ID = s.nextID
		s.nextID++
	}
	s.perms[perm.ID] = perm
	return perm
}

func (s *stubStore) addUser(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = active
}

func (s *stubStore) GetRole(_ context.Context, id int64) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, shared.NotFoundf("stub: role %d", id)
	}
	return role, nil
}

func (s *stubStore) ListRoles(_ context.Context, activeOnly bool) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []Role
	for _, role := range s.roles {
		if activeOnly && !role.IsActive {
			continue
		}
		roles = append(roles, role)
	}
	sortRoles(roles)
	return roles, nil
}

func (s *stubStore) ListRolesByIDs(_ context.Context, ids []int64) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []Role
	for _, id := range ids {
		if role, ok := s.roles[id]; ok {
			roles = append(roles, role)
		}
	}
	sortRoles(roles)
	return roles, nil
}

func (s *stubStore) CreateRole(_ context.Context, role Role) (Role, error) {
	role.IsActive = true
	role.CreatedAt = time.Now().UTC()
	role.UpdatedAt = role.CreatedAt
	return s.addRole(role), nil
}

func (s *stubStore) UpdateRole(_ context.Context, role Role) (Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.roles[role.ID]
	if !ok {
		return Role{}, shared.NotFoundf("stub: role %d", role.ID)
	}
	current.Name = role.Name
	current.Description = role.Description
	current.Category = role.Category
	current.Priority = role.Priority
	current.UpdatedAt = time.Now().UTC()
	s.roles[role.ID] = current
	return current, nil
}

func (s *stubStore) SetRoleActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return shared.NotFoundf("stub: role %d", id)
	}
	role.IsActive = active
	s.roles[id] = role
	return nil
}

func (s *stubStore) DeleteRole(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return shared.NotFoundf("stub: role %d", id)
	}
	delete(s.roles, id)
	return nil
}

func (s *stubStore) ActiveRoleNameExists(_ context.Context, name string, excludeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.IsActive && role.Name == name && role.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) CountRoleReferences(_ context.Context, roleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for key := range s.userRoles {
		if key[1] == roleID {
			count++
		}
	}
	for key := range s.rolePerms {
		if key[0] == roleID {
			count++
		}
	}
	return count, nil
}

func (s *stubStore) GetPermission(_ context.Context, id int64) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok {
		return Permission{}, shared.NotFoundf("stub: permission %d", id)
	}
	return perm, nil
}

func (s *stubStore) ListPermissions(_ context.Context, activeOnly bool) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var perms []Permission
	for _, perm := range s.perms {
		if activeOnly && !perm.IsActive {
			continue
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

func (s *stubStore) ListPermissionsByIDs(_ context.Context, ids []int64) ([]Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var perms []Permission
	for _, id := range ids {
		if perm, ok := s.perms[id]; ok {
			perms = append(perms, perm)
		}
	}
	return perms, nil
}

func (s *stubStore) CreatePermission(_ context.Context, perm Permission) (Permission, error) {
	perm.IsActive = true
	perm.CreatedAt = time.Now().UTC()
	perm.UpdatedAt = perm.CreatedAt
	return s.addPermission(perm), nil
}

func (s *stubStore) UpdatePermission(_ context.Context, perm Permission) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.perms[perm.ID]
	if !ok {
		return Permission{}, shared.NotFoundf("stub: permission %d", perm.ID)
	}
	current.Name = perm.Name
	current.Resource = perm.Resource
	current.Action = perm.Action
	current.Description = perm.Description
	current.Category = perm.Category
	current.Priority = perm.Priority
	current.UpdatedAt = time.Now().UTC()
	s.perms[perm.ID] = current
	return current, nil
}

func (s *stubStore) SetPermissionActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[id]
	if !ok {
		return shared.NotFoundf("stub: permission %d", id)
	}
	perm.IsActive = active
	s.perms[id] = perm
	return nil
}

func (s *stubStore) DeletePermission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return shared.NotFoundf("stub: permission %d", id)
	}
	delete(s.perms, id)
	return nil
}

func (s *stubStore) ActivePermissionNameExists(_ context.Context, name string, excludeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, perm := range s.perms {
		if perm.IsActive && perm.Name == name && perm.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) ActivePermissionPairExists(_ context.Context, resource, action string, excludeID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, perm := range s.perms {
		if perm.IsActive && perm.Resource == resource && perm.Action == action && perm.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) CountPermissionReferences(_ context.Context, permissionID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for key := range s.rolePerms {
		if key[1] == permissionID {
			count++
		}
	}
	return count, nil
}

func (s *stubStore) ListUserRoles(_ context.Context, userID int64) ([]UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listUserRolesCalls++
	var edges []UserRole
	for key, edge := range s.userRoles {
		if key[0] == userID {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

func (s *stubStore) GetUserRoleEdge(_ context.Context, userID, roleID int64) (UserRole, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.userRoles[[2]int64{userID, roleID}]
	if !ok {
		return UserRole{}, shared.NotFoundf("stub: user role edge")
	}
	return edge, nil
}

func (s *stubStore) SaveUserRole(_ context.Context, edge UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[[2]int64{edge.UserID, edge.RoleID}] = edge
	return nil
}

func (s *stubStore) DeactivateUserRole(_ context.Context, userID, roleID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, roleID}
	edge, ok := s.userRoles[key]
	if !ok || !edge.IsActive {
		return false, nil
	}
	edge.IsActive = false
	s.userRoles[key] = edge
	return true, nil
}

func (s *stubStore) ListRolePermissions(_ context.Context, roleID int64) ([]RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var edges []RolePermission
	for key, edge := range s.rolePerms {
		if key[0] == roleID {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

func (s *stubStore) GetRolePermissionEdge(_ context.Context, roleID, permissionID int64) (RolePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edge, ok := s.rolePerms[[2]int64{roleID, permissionID}]
	if !ok {
		return RolePermission{}, shared.NotFoundf("stub: role permission edge")
	}
	return edge, nil
}

func (s *stubStore) SaveRolePermission(_ context.Context, edge RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[[2]int64{edge.RoleID, edge.PermissionID}] = edge
	return nil
}

func (s *stubStore) DeactivateRolePermission(_ context.Context, roleID, permissionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{roleID, permissionID}
	edge, ok := s.rolePerms[key]
	if !ok || !edge.IsActive {
		return false, nil
	}
	edge.IsActive = false
	s.rolePerms[key] = edge
	return true, nil
}

func (s *stubStore) ListRoleUserIDs(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for key := range s.userRoles {
		if key[1] == roleID {
			ids = append(ids, key[0])
		}
	}
	return ids, nil
}

func (s *stubStore) UserIsActive(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, ok := s.users[userID]
	if !ok {
		return false, shared.NotFoundf("stub: user %d", userID)
	}
	return active, nil
}
