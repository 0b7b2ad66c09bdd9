package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/keystone-id/keystone/internal/identity"
	"github.com/keystone-id/keystone/internal/rbac"
	"github.com/keystone-id/keystone/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	IdentityHandler *identity.Handler
	RBACHandler     *rbac.Handler
	JobsHandler     *jobs.Handler
	AuthMiddleware  func(http.Handler) http.Handler
	RBACMiddleware  rbac.Middleware
}

// NewRouter constructs the chi.Router with Keystone defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.IdentityHandler != nil {
		r.Route("/auth", func(r chi.Router) {
			r.With(LoginRateLimit()).Post("/login", params.IdentityHandler.HandleLogin)
			r.Post("/refresh", params.IdentityHandler.HandleRefresh)
			r.Group(func(r chi.Router) {
				if params.AuthMiddleware != nil {
					r.Use(params.AuthMiddleware)
				}
				r.Post("/logout", params.IdentityHandler.HandleLogout)
				r.Post("/logout-all", params.IdentityHandler.HandleLogoutAll)
			})
		})
		r.Group(func(r chi.Router) {
			if params.AuthMiddleware != nil {
				r.Use(params.AuthMiddleware)
			}
			r.Get("/authz/check", params.IdentityHandler.HandleAuthorize)
		})
	}

	if params.RBACHandler != nil {
		r.Group(func(r chi.Router) {
			if params.AuthMiddleware != nil {
				r.Use(params.AuthMiddleware)
			}
			r.Route("/roles", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.PermRolesView, rbac.PermRolesEdit))
				params.RBACHandler.MountRoleRoutes(r)
			})
			r.Route("/permissions", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(rbac.PermPermissionsView, rbac.PermRolesEdit))
				params.RBACHandler.MountPermissionRoutes(r)
			})
			r.Route("/assignments", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(rbac.PermRolesEdit))
				params.RBACHandler.MountAssignmentRoutes(r)
			})
		})
	}

	if params.JobsHandler != nil {
		r.Group(func(r chi.Router) {
			if params.AuthMiddleware != nil {
				r.Use(params.AuthMiddleware)
			}
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAll(rbac.PermJobsManage))
				params.JobsHandler.MountRoutes(r)
			})
		})
	}

	return r
}
