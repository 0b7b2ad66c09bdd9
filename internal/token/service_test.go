package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/keystone-id/keystone/internal/rbac"
	"github.com/keystone-id/keystone/internal/shared"
	_ "github.com/keystone-id/keystone/testing"
)

type stubStore struct {
	mu     sync.Mutex
	rows   map[int64]Token
	nextID int64
}

func newStubStore() *stubStore {
	return &stubStore{rows: make(map[int64]Token), nextID: 1}
}

func (s *stubStore) Create(_ context.Context, t Token) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	t.IsActive = true
	s.rows[t.ID] = t
	return t, nil
}

func (s *stubStore) GetByValue(_ context.Context, value string, purpose Purpose) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.rows {
		if t.Value == value && t.Purpose == purpose {
			return t, nil
		}
	}
	return Token{}, shared.NotFoundf("stub: token")
}

func (s *stubStore) GetByID(_ context.Context, id int64) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return Token{}, shared.NotFoundf("stub: token %d", id)
	}
	return t, nil
}

func (s *stubStore) ListActiveForUser(_ context.Context, userID int64) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []Token
	for _, t := range s.rows {
		if t.UserID == userID && t.IsActive && !t.IsRevoked {
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}

func (s *stubStore) Rotate(_ context.Context, oldID int64, next Token, at time.Time) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[oldID]
	if !ok || old.IsRevoked {
		return Token{}, shared.NotFoundf("stub: token %d", oldID)
	}
	old.IsActive = false
	old.IsRevoked = true
	old.IsRotated = true
	old.RevokedAt = &at
	old.RevocationReason = ReasonRotation
	s.rows[oldID] = old

	next.ID = s.nextID
	s.nextID++
	next.IsActive = true
	s.rows[next.ID] = next
	return next, nil
}

func (s *stubStore) Revoke(_ context.Context, id int64, revokedBy *int64, reason RevocationReason, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsActive = false
	t.IsRevoked = true
	t.RevokedAt = &at
	t.RevokedBy = revokedBy
	t.RevocationReason = reason
	s.rows[id] = t
	return true, nil
}

func (s *stubStore) RevokeAllForUser(_ context.Context, userID int64, revokedBy *int64, reason RevocationReason, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, t := range s.rows {
		if t.UserID != userID || !t.IsActive || t.IsRevoked {
			continue
		}
		t.IsActive = false
		t.IsRevoked = true
		t.RevokedAt = &at
		t.RevokedBy = revokedBy
		t.RevocationReason = reason
		s.rows[id] = t
		count++
	}
	return count, nil
}

func (s *stubStore) Touch(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return shared.NotFoundf("stub: token %d", id)
	}
	t.UsageCount++
	t.LastUsedAt = &at
	s.rows[id] = t
	return nil
}

func (s *stubStore) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, t := range s.rows {
		if !t.IsActive || t.IsRevoked || t.ExpiresAt.After(now) {
			continue
		}
		t.IsActive = false
		t.IsRevoked = true
		t.RevokedAt = &now
		t.RevocationReason = ReasonExpired
		s.rows[id] = t
		count++
	}
	return count, nil
}

func (s *stubStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, t := range s.rows {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.rows, id)
			count++
		}
	}
	return count, nil
}

type stubPerms struct {
	roles []rbac.Role
	perms []rbac.Permission
}

func (s stubPerms) GetUserRoles(context.Context, int64) ([]rbac.Role, error) {
	return s.roles, nil
}

func (s stubPerms) GetUserPermissions(context.Context, int64) ([]rbac.Permission, error) {
	return s.perms, nil
}

func testService(store Store) *Service {
	return NewService(store, stubPerms{
		roles: []rbac.Role{{ID: 1, Name: "operator"}},
		perms: []rbac.Permission{{ID: 10, Name: "orders.view"}},
	}, Config{
		SigningKey: []byte("test-signing-key-0123456789abcdef"),
		Issuer:     "keystone",
		Audience:   "keystone-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
	}, nil, nil)
}

func TestIssuePairAndValidateAccess(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada", LoginProvider: "password"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type %q", pair.TokenType)
	}
	if pair.RefreshToken == "" || pair.AccessToken == "" {
		t.Fatal("empty credentials in pair")
	}

	claims, err := svc.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if claims.UserID != 7 || claims.Username != "ada" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "operator" {
		t.Fatalf("roles not embedded: %+v", claims.Roles)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "orders.view" {
		t.Fatalf("permissions not embedded: %+v", claims.Permissions)
	}

	stored, err := store.GetByValue(context.Background(), pair.RefreshToken, PurposeRefresh)
	if err != nil {
		t.Fatalf("refresh token not persisted: %v", err)
	}
	if stored.LoginProvider != "password" {
		t.Fatalf("login provider not persisted: %q", stored.LoginProvider)
	}
}

func TestValidateAccessRejectsTamperedAndExpired(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if _, err := svc.ValidateAccess(pair.AccessToken + "x"); !errors.Is(err, shared.ErrInvalidToken) {
		t.Fatalf("tampered token: expected ErrInvalidToken, got %v", err)
	}

	other := testService(store)
	other.cfg.SigningKey = []byte("a-completely-different-signing-key")
	if _, err := other.ValidateAccess(pair.AccessToken); !errors.Is(err, shared.ErrInvalidToken) {
		t.Fatalf("wrong key: expected ErrInvalidToken, got %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := svc.ValidateAccess(pair.AccessToken); !errors.Is(err, shared.ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRotatesChain(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada", LoginProvider: "password"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	old, err := store.GetByValue(context.Background(), pair.RefreshToken, PurposeRefresh)
	if err != nil {
		t.Fatalf("lookup old token: %v", err)
	}

	subject := func(userID int64) (Subject, error) {
		return Subject{UserID: userID, Username: "ada"}, nil
	}

	next, err := svc.Refresh(context.Background(), pair.RefreshToken, subject)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a new refresh value")
	}

	rotated, err := store.GetByID(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("lookup rotated token: %v", err)
	}
	if rotated.State(time.Now()) != StateRotated {
		t.Fatalf("old token state = %v, want rotated", rotated.State(time.Now()))
	}
	if rotated.RevocationReason != ReasonRotation {
		t.Fatalf("reason = %q, want %q", rotated.RevocationReason, ReasonRotation)
	}
	if rotated.UsageCount != 1 {
		t.Fatalf("usage count = %d, want 1", rotated.UsageCount)
	}

	fresh, err := store.GetByValue(context.Background(), next.RefreshToken, PurposeRefresh)
	if err != nil {
		t.Fatalf("lookup new token: %v", err)
	}
	if fresh.ParentTokenID == nil || *fresh.ParentTokenID != old.ID {
		t.Fatalf("new token must point at its parent, got %v", fresh.ParentTokenID)
	}
	if fresh.LoginProvider != "password" {
		t.Fatalf("login provider not carried over: %q", fresh.LoginProvider)
	}

	// Replaying the rotated value fails.
	if _, err := svc.Refresh(context.Background(), pair.RefreshToken, subject); !errors.Is(err, shared.ErrInvalidToken) {
		t.Fatalf("replay: expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRejectsExpired(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, func(userID int64) (Subject, error) {
		return Subject{UserID: userID}, nil
	})
	if !errors.Is(err, shared.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevokeByValue(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if err := svc.RevokeByValue(context.Background(), pair.RefreshToken, 7); err != nil {
		t.Fatalf("RevokeByValue: %v", err)
	}
	stored, err := store.GetByValue(context.Background(), pair.RefreshToken, PurposeRefresh)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.State(time.Now()) != StateRevoked || stored.RevocationReason != ReasonManual {
		t.Fatalf("unexpected state %v reason %q", stored.State(time.Now()), stored.RevocationReason)
	}

	// Revoking twice fails, and the revoked value no longer refreshes.
	if err := svc.RevokeByValue(context.Background(), pair.RefreshToken, 7); !errors.Is(err, shared.ErrInvalidToken) {
		t.Fatalf("double revoke: expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	for i := 0; i < 3; i++ {
		if _, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada"}); err != nil {
			t.Fatalf("IssuePair: %v", err)
		}
	}
	if _, err := svc.IssuePair(context.Background(), Subject{UserID: 8, Username: "bob"}); err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	count, err := svc.RevokeAllForUser(context.Background(), 7, 1)
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if count != 3 {
		t.Fatalf("revoked %d tokens, want 3", count)
	}

	remaining, err := svc.ListActiveForUser(context.Background(), 8)
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("other user's tokens swept: %d remaining", len(remaining))
	}
}

func TestCleanupExpired(t *testing.T) {
	store := newStubStore()
	svc := testService(store)
	now := time.Now().UTC()

	// One live token, one freshly expired, one long expired.
	store.Create(context.Background(), Token{UserID: 7, Purpose: PurposeRefresh, Value: "live", ExpiresAt: now.Add(time.Hour)})
	store.Create(context.Background(), Token{UserID: 7, Purpose: PurposeRefresh, Value: "stale", ExpiresAt: now.Add(-time.Hour)})
	store.Create(context.Background(), Token{UserID: 7, Purpose: PurposeRefresh, Value: "ancient", ExpiresAt: now.Add(-60 * 24 * time.Hour)})

	marked, purged, err := svc.CleanupExpired(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if marked != 2 {
		t.Fatalf("marked %d, want 2", marked)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}

	// The sweep revokes, not merely deactivates: the row carries the full
	// revocation shape with the expiry reason.
	stale, err := store.GetByValue(context.Background(), "stale", PurposeRefresh)
	if err != nil {
		t.Fatalf("lookup stale token: %v", err)
	}
	if !stale.IsRevoked || stale.RevokedAt == nil {
		t.Fatalf("swept token not revoked: IsRevoked=%v RevokedAt=%v", stale.IsRevoked, stale.RevokedAt)
	}
	if stale.State(now) != StateRevoked {
		t.Fatalf("swept token state = %v, want %v", stale.State(now), StateRevoked)
	}
	if stale.RevocationReason != ReasonExpired {
		t.Fatalf("reason = %q, want %q", stale.RevocationReason, ReasonExpired)
	}

	if _, err := store.GetByValue(context.Background(), "live", PurposeRefresh); err != nil {
		t.Fatalf("live token removed: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	store := newStubStore()
	svc := testService(store)

	pair, err := svc.IssuePair(context.Background(), Subject{UserID: 7, Username: "ada"})
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	var got *shared.Claims
	handler := svc.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authorized request: status %d", rec.Code)
	}
	if got == nil || got.UserID != 7 {
		t.Fatalf("claims not propagated: %+v", got)
	}

	for _, header := range []string{"", "Bearer ", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status %d, want 401", header, rec.Code)
		}
	}
}
