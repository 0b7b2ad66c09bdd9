package identity

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/keystone-id/keystone/internal/platform/httpx"
	"github.com/keystone-id/keystone/internal/rbac"
	"github.com/keystone-id/keystone/internal/shared"
)

// Handler exposes authentication and authorization over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type loginPayload struct {
	Login    string `json:"login" validate:"required,min=3,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// HandleLogin authenticates credentials and returns a credential pair.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pair, err := h.service.Login(r.Context(), LoginInput{Login: payload.Login, Password: payload.Password})
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// HandleRefresh rotates a refresh token.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload refreshPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	pair, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

// HandleLogout revokes the presented refresh token.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims := shared.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var payload refreshPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.service.Logout(r.Context(), payload.RefreshToken, claims.UserID); err != nil {
		h.fail(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll revokes every active token the caller holds.
func (h *Handler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := shared.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	count, err := h.service.LogoutAll(r.Context(), claims.UserID, claims.UserID)
	if err != nil {
		h.fail(w, "logout all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"revoked": count})
}

// HandleAuthorize answers a live permission check for the caller, bypassing
// the claims snapshot baked into the access token.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	claims := shared.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	key, err := rbac.ParsePermissionKey(r.URL.Query().Get("permission"))
	if err != nil {
		h.fail(w, "authorize", err)
		return
	}
	allowed := h.service.Authorize(r.Context(), claims.UserID, key.Resource, key.Action)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"allowed":    allowed,
		"permission": key.String(),
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
