package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-id/keystone/internal/shared"
	"github.com/keystone-id/keystone/internal/token"
)

func newTestHandler(t *testing.T, store *stubStore, issuer *stubIssuer, authz Authorizer) *Handler {
	t.Helper()
	return NewHandler(nil, NewService(store, issuer, authz, nil, nil))
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, claims *shared.Claims) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		req = req.WithContext(shared.ContextWithClaims(req.Context(), claims))
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleLogin(t *testing.T) {
	store := newStubStore()
	seedUser(t, store, 1, "ada", "correct-horse", true)
	issuer := &stubIssuer{pair: token.Pair{AccessToken: "jwt", RefreshToken: "opaque", TokenType: "Bearer"}}
	handler := newTestHandler(t, store, issuer, stubAuthz{})

	rec := postJSON(t, handler.HandleLogin, "/auth/login", map[string]string{
		"login":    "ada",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var pair token.Pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	assert.Equal(t, "jwt", pair.AccessToken)
	assert.Equal(t, "opaque", pair.RefreshToken)
}

func TestHandleLoginBadCredentials(t *testing.T) {
	store := newStubStore()
	seedUser(t, store, 1, "ada", "correct-horse", true)
	handler := newTestHandler(t, store, &stubIssuer{}, stubAuthz{})

	rec := postJSON(t, handler.HandleLogin, "/auth/login", map[string]string{
		"login":    "ada",
		"password": "wrong-horse-battery",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLoginValidation(t *testing.T) {
	handler := newTestHandler(t, newStubStore(), &stubIssuer{}, stubAuthz{})

	// Password below the minimum never reaches the credential check.
	rec := postJSON(t, handler.HandleLogin, "/auth/login", map[string]string{
		"login":    "ada",
		"password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRefresh(t *testing.T) {
	store := newStubStore()
	seedUser(t, store, 1, "ada", "correct-horse", true)
	issuer := &stubIssuer{pair: token.Pair{AccessToken: "fresh"}}
	handler := newTestHandler(t, store, issuer, stubAuthz{})

	rec := postJSON(t, handler.HandleRefresh, "/auth/refresh", map[string]string{
		"refresh_token": "known-refresh",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, handler.HandleRefresh, "/auth/refresh", map[string]string{
		"refresh_token": "bogus",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleLogoutRequiresClaims(t *testing.T) {
	issuer := &stubIssuer{}
	handler := newTestHandler(t, newStubStore(), issuer, stubAuthz{})

	rec := postJSON(t, handler.HandleLogout, "/auth/logout", map[string]string{
		"refresh_token": "opaque",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, issuer.revoked)

	rec = postJSON(t, handler.HandleLogout, "/auth/logout", map[string]string{
		"refresh_token": "opaque",
	}, &shared.Claims{UserID: 1})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"opaque"}, issuer.revoked)
}

func TestHandleAuthorize(t *testing.T) {
	handler := newTestHandler(t, newStubStore(), &stubIssuer{}, stubAuthz{allowed: true})

	req := httptest.NewRequest(http.MethodGet, "/authz/check?permission=orders.view", nil)
	req = req.WithContext(shared.ContextWithClaims(req.Context(), &shared.Claims{UserID: 1}))
	rec := httptest.NewRecorder()
	handler.HandleAuthorize(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Allowed    bool   `json:"allowed"`
		Permission string `json:"permission"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
	assert.Equal(t, "orders.view", result.Permission)

	// Malformed permission key is a validation error, not a silent deny.
	req = httptest.NewRequest(http.MethodGet, "/authz/check?permission=orphan", nil)
	req = req.WithContext(shared.ContextWithClaims(req.Context(), &shared.Claims{UserID: 1}))
	rec = httptest.NewRecorder()
	handler.HandleAuthorize(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
