package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-id/keystone/internal/platform/httpx"
	"github.com/keystone-id/keystone/internal/shared"
)

// Handler exposes the registry and assignment manager over JSON.
type Handler struct {
	logger      *slog.Logger
	registry    *Registry
	assignments *AssignmentManager
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, assignments *AssignmentManager) *Handler {
	return &Handler{
		logger:      logger,
		registry:    registry,
		assignments: assignments,
		validator:   validator.New(),
	}
}

// MountRoleRoutes registers role CRUD routes.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Post("/", h.createRole)
	r.Get("/{roleID}", h.getRole)
	r.Put("/{roleID}", h.updateRole)
	r.Delete("/{roleID}", h.deleteRole)
	r.Post("/{roleID}/deactivate", h.deactivateRole)
	r.Post("/{roleID}/activate", h.activateRole)
}

// MountPermissionRoutes registers permission CRUD routes.
func (h *Handler) MountPermissionRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
	r.Post("/", h.createPermission)
	r.Get("/{permissionID}", h.getPermission)
	r.Put("/{permissionID}", h.updatePermission)
	r.Delete("/{permissionID}", h.deletePermission)
	r.Post("/{permissionID}/deactivate", h.deactivatePermission)
	r.Post("/{permissionID}/activate", h.activatePermission)
}

// MountAssignmentRoutes registers edge mutation routes.
func (h *Handler) MountAssignmentRoutes(r chi.Router) {
	r.Post("/user-roles", h.assignRole)
	r.Delete("/user-roles", h.removeRole)
	r.Post("/role-permissions", h.assignPermission)
	r.Delete("/role-permissions", h.removePermission)
}

type rolePayload struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	role, err := h.registry.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	role, err := h.registry.CreateRole(r.Context(), h.actorID(r), RoleInput{
		Name:        payload.Name,
		Description: payload.Description,
		Category:    payload.Category,
		Priority:    payload.Priority,
	})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	role, err := h.registry.UpdateRole(r.Context(), h.actorID(r), id, RoleInput{
		Name:        payload.Name,
		Description: payload.Description,
		Category:    payload.Category,
		Priority:    payload.Priority,
	})
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.registry.DeleteRole(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.registry.DeactivateRole(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "deactivate role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.registry.ActivateRole(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "activate role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionPayload struct {
	Resource    string `json:"resource" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Priority    int    `json:"priority"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.registry.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	perm, err := h.registry.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, "get permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var payload permissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	perm, err := h.registry.CreatePermission(r.Context(), h.actorID(r), PermissionInput{
		Resource:    payload.Resource,
		Action:      payload.Action,
		Description: payload.Description,
		Category:    payload.Category,
		Priority:    payload.Priority,
	})
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	var payload permissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	perm, err := h.registry.UpdatePermission(r.Context(), h.actorID(r), id, PermissionInput{
		Resource:    payload.Resource,
		Action:      payload.Action,
		Description: payload.Description,
		Category:    payload.Category,
		Priority:    payload.Priority,
	})
	if err != nil {
		h.fail(w, "update permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.registry.DeletePermission(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.registry.DeactivatePermission(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "deactivate permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.registry.ActivatePermission(r.Context(), h.actorID(r), id); err != nil {
		h.fail(w, "activate permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignRolePayload struct {
	UserID      int64      `json:"user_id" validate:"required,gt=0"`
	RoleID      int64      `json:"role_id" validate:"required,gt=0"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason"`
	Category    string     `json:"category"`
	Priority    int        `json:"priority"`
	IsTemporary bool       `json:"is_temporary"`
	Notes       string     `json:"notes"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var payload assignRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	err := h.assignments.AssignRoleToUser(r.Context(), AssignRoleInput{
		UserID:             payload.UserID,
		RoleID:             payload.RoleID,
		AssignedBy:         h.actorID(r),
		ExpiresAt:          payload.ExpiresAt,
		AssignmentReason:   payload.Reason,
		AssignmentCategory: payload.Category,
		Priority:           payload.Priority,
		IsTemporary:        payload.IsTemporary,
		Notes:              payload.Notes,
	})
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	var payload assignRolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.assignments.RemoveRoleFromUser(r.Context(), payload.UserID, payload.RoleID, h.actorID(r)); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignPermissionPayload struct {
	RoleID       int64      `json:"role_id" validate:"required,gt=0"`
	PermissionID int64      `json:"permission_id" validate:"required,gt=0"`
	IsGranted    *bool      `json:"is_granted,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) assignPermission(w http.ResponseWriter, r *http.Request) {
	var payload assignPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	granted := true
	if payload.IsGranted != nil {
		granted = *payload.IsGranted
	}
	err := h.assignments.AssignPermissionToRole(r.Context(), AssignPermissionInput{
		RoleID:       payload.RoleID,
		PermissionID: payload.PermissionID,
		AssignedBy:   h.actorID(r),
		IsGranted:    granted,
		ExpiresAt:    payload.ExpiresAt,
	})
	if err != nil {
		h.fail(w, "assign permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removePermission(w http.ResponseWriter, r *http.Request) {
	var payload assignPermissionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.assignments.RemovePermissionFromRole(r.Context(), payload.RoleID, payload.PermissionID, h.actorID(r)); err != nil {
		h.fail(w, "remove permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) actorID(r *http.Request) int64 {
	if claims := shared.ClaimsFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return 0
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
