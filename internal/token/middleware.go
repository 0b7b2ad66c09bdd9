package token

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/keystone-id/keystone/internal/shared"
)

// Middleware returns the bearer-token authentication middleware. It verifies
// the access JWT and stores the claims in the request context; requests
// without a valid token are rejected with 401.
func (s *Service) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			claims, err := s.ValidateAccess(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("access token rejected", slog.String("path", r.URL.Path))
				}
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="keystone"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
