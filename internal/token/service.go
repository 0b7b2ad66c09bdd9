package token

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keystone-id/keystone/internal/rbac"
	"github.com/keystone-id/keystone/internal/shared"
)

// PermissionSource resolves the roles and permissions baked into access
// tokens. *rbac.Resolver satisfies it.
type PermissionSource interface {
	GetUserRoles(ctx context.Context, userID int64) ([]rbac.Role, error)
	GetUserPermissions(ctx context.Context, userID int64) ([]rbac.Permission, error)
}

// Config carries the signing material and lifetimes for issued credentials.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service owns the token lifecycle: issuance, stateless access-token
// validation, refresh rotation and revocation.
type Service struct {
	store  Store
	perms  PermissionSource
	cfg    Config
	audit  *shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, perms PermissionSource, cfg Config, audit *shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, perms: perms, cfg: cfg, audit: audit, logger: logger, now: time.Now}
}

type accessClaims struct {
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IsSystem    bool     `json:"is_system,omitempty"`
	jwt.RegisteredClaims
}

// Subject describes the principal a credential pair is issued for.
type Subject struct {
	UserID        int64
	Username      string
	IsSystem      bool
	LoginProvider string
}

// IssuePair mints an access JWT and a persisted opaque refresh token for the
// subject. Role and permission names are resolved once at issuance and
// embedded in the JWT; they go stale only until the access token expires.
func (s *Service) IssuePair(ctx context.Context, sub Subject) (Pair, error) {
	now := s.now().UTC()

	access, accessExp, err := s.issueAccess(ctx, sub, now)
	if err != nil {
		return Pair{}, err
	}

	refresh, err := s.store.Create(ctx, Token{
		UserID:        sub.UserID,
		Purpose:       PurposeRefresh,
		Value:         uuid.NewString(),
		LoginProvider: sub.LoginProvider,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.RefreshTTL),
	})
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Value,
		RefreshExpiresAt: refresh.ExpiresAt,
		TokenType:        "Bearer",
	}, nil
}

func (s *Service) issueAccess(ctx context.Context, sub Subject, now time.Time) (string, time.Time, error) {
	roles, err := s.perms.GetUserRoles(ctx, sub.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	perms, err := s.perms.GetUserPermissions(ctx, sub.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	roleNames := make([]string, 0, len(roles))
	for _, role := range roles {
		roleNames = append(roleNames, role.Name)
	}
	permNames := make([]string, 0, len(perms))
	for _, perm := range perms {
		permNames = append(permNames, perm.Name)
	}

	expiresAt := now.Add(s.cfg.AccessTTL)
	claims := accessClaims{
		Username:    sub.Username,
		Roles:       roleNames,
		Permissions: permNames,
		IsSystem:    sub.IsSystem,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			Subject:   strconv.FormatInt(sub.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccess verifies an access JWT and returns the embedded claims.
// Validation is stateless: no row lookup, so revocation of the refresh chain
// only takes effect once the short-lived access token lapses.
func (s *Service) ValidateAccess(tokenString string) (*shared.Claims, error) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, shared.ErrInvalidToken
		}
		return s.cfg.SigningKey, nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil || !parsed.Valid {
		return nil, shared.ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, shared.ErrInvalidToken
	}
	return &shared.Claims{
		UserID:      userID,
		Username:    claims.Username,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		IsSystem:    claims.IsSystem,
	}, nil
}

// Refresh rotates the refresh token: the presented token is revoked with the
// rotation reason and a fresh pair is issued, the new row pointing back at
// the old one. Presenting a revoked or rotated token fails; the chain is not
// silently restarted.
func (s *Service) Refresh(ctx context.Context, refreshValue string, sub func(userID int64) (Subject, error)) (Pair, error) {
	current, err := s.store.GetByValue(ctx, refreshValue, PurposeRefresh)
	if err != nil {
		return Pair{}, shared.ErrInvalidToken
	}
	now := s.now().UTC()
	switch current.State(now) {
	case StateActive:
	case StateExpired:
		return Pair{}, shared.ErrExpired
	case StateRotated, StateRevoked:
		// A rotated token showing up again means the value leaked or a
		// client replayed an old credential.
		if s.logger != nil {
			s.logger.Warn("revoked refresh token presented",
				slog.Int64("user_id", current.UserID), slog.Int64("token_id", current.ID))
		}
		return Pair{}, shared.ErrInvalidToken
	default:
		return Pair{}, shared.ErrInvalidToken
	}
	if !current.IsActive {
		return Pair{}, shared.ErrInvalidToken
	}

	subject, err := sub(current.UserID)
	if err != nil {
		return Pair{}, err
	}
	if subject.LoginProvider == "" {
		subject.LoginProvider = current.LoginProvider
	}

	if err := s.store.Touch(ctx, current.ID, now); err != nil && s.logger != nil {
		s.logger.Warn("touch refresh token", slog.Int64("token_id", current.ID), slog.Any("error", err))
	}

	access, accessExp, err := s.issueAccess(ctx, subject, now)
	if err != nil {
		return Pair{}, err
	}
	next, err := s.store.Rotate(ctx, current.ID, Token{
		UserID:        current.UserID,
		Purpose:       PurposeRefresh,
		Value:         uuid.NewString(),
		LoginProvider: subject.LoginProvider,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.cfg.RefreshTTL),
		ParentTokenID: &current.ID,
	}, now)
	if err != nil {
		return Pair{}, err
	}
	s.emit(ctx, current.UserID, "token.rotate", strconv.FormatInt(current.ID, 10), map[string]any{
		"parent_token_id": current.ID,
		"token_id":        next.ID,
	})
	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     next.Value,
		RefreshExpiresAt: next.ExpiresAt,
		TokenType:        "Bearer",
	}, nil
}

// RevokeByValue revokes the refresh token with the given value on behalf of
// revokedBy. Used by logout.
func (s *Service) RevokeByValue(ctx context.Context, refreshValue string, revokedBy int64) error {
	current, err := s.store.GetByValue(ctx, refreshValue, PurposeRefresh)
	if err != nil {
		return shared.ErrInvalidToken
	}
	changed, err := s.store.Revoke(ctx, current.ID, &revokedBy, ReasonManual, s.now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return shared.ErrInvalidToken
	}
	s.emit(ctx, revokedBy, "token.revoke", strconv.FormatInt(current.ID, 10), map[string]any{
		"user_id": current.UserID,
	})
	return nil
}

// RevokeAllForUser sweeps every active token the user holds. Tokens created
// after the sweep started are untouched; callers needing a hard cut also
// disable the account.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, revokedBy int64) (int64, error) {
	count, err := s.store.RevokeAllForUser(ctx, userID, &revokedBy, ReasonBulk, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.emit(ctx, revokedBy, "token.revoke_all", strconv.FormatInt(userID, 10), map[string]any{
		"user_id": userID,
		"revoked": count,
	})
	return count, nil
}

// ListActiveForUser returns the user's live sessions.
func (s *Service) ListActiveForUser(ctx context.Context, userID int64) ([]Token, error) {
	return s.store.ListActiveForUser(ctx, userID)
}

// CleanupExpired revokes freshly expired rows with the expiry reason and
// purges rows expired for longer than retain. Run from the scheduler.
func (s *Service) CleanupExpired(ctx context.Context, retain time.Duration) (marked, purged int64, err error) {
	now := s.now().UTC()
	marked, err = s.store.MarkExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}
	purged, err = s.store.DeleteExpiredBefore(ctx, now.Add(-retain))
	if err != nil {
		return marked, 0, err
	}
	return marked, purged, nil
}

func (s *Service) emit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "token",
		EntityID: entityID,
		Meta:     meta,
	})
}
