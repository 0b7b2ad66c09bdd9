package identity

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keystone-id/keystone/internal/shared"
	"github.com/keystone-id/keystone/internal/token"
)

// TokenIssuer is the credential lifecycle surface the identity service
// drives. *token.Service satisfies it.
type TokenIssuer interface {
	IssuePair(ctx context.Context, sub token.Subject) (token.Pair, error)
	Refresh(ctx context.Context, refreshValue string, sub func(userID int64) (token.Subject, error)) (token.Pair, error)
	RevokeByValue(ctx context.Context, refreshValue string, revokedBy int64) error
	RevokeAllForUser(ctx context.Context, userID, revokedBy int64) (int64, error)
}

// Authorizer answers live permission checks. *rbac.Resolver satisfies it.
type Authorizer interface {
	UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error)
}

// Service wraps authentication and authorization business rules.
type Service struct {
	store  Store
	tokens TokenIssuer
	authz  Authorizer
	audit  *shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(store Store, tokens TokenIssuer, authz Authorizer, audit *shared.AuditRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, tokens: tokens, authz: authz, audit: audit, logger: logger, now: time.Now}
}

// LoginInput carries the credentials presented at login.
type LoginInput struct {
	Login    string
	Password string
	Provider string
}

// Login validates the credentials and issues a fresh credential pair. Unknown
// accounts, bad passwords and disabled accounts all collapse into
// ErrInvalidCredentials so the response does not leak which check failed.
func (s *Service) Login(ctx context.Context, in LoginInput) (token.Pair, error) {
	user, err := s.store.GetByLogin(ctx, in.Login)
	if err != nil {
		return token.Pair{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return token.Pair{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return token.Pair{}, shared.ErrInvalidCredentials
	}

	provider := in.Provider
	if provider == "" {
		provider = "password"
	}
	pair, err := s.tokens.IssuePair(ctx, token.Subject{
		UserID:        user.ID,
		Username:      user.Username,
		IsSystem:      user.IsSystem,
		LoginProvider: provider,
	})
	if err != nil {
		return token.Pair{}, err
	}

	if err := s.store.RecordLogin(ctx, user.ID, s.now().UTC()); err != nil && s.logger != nil {
		s.logger.Warn("record login", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	s.emit(ctx, user.ID, "identity.login", user.ID, map[string]any{"provider": provider})
	return pair, nil
}

// Refresh rotates a refresh token. The account is re-checked so a user
// disabled mid-session cannot mint new credentials.
func (s *Service) Refresh(ctx context.Context, refreshValue string) (token.Pair, error) {
	return s.tokens.Refresh(ctx, refreshValue, func(userID int64) (token.Subject, error) {
		user, err := s.store.GetByID(ctx, userID)
		if err != nil {
			return token.Subject{}, shared.ErrInvalidToken
		}
		if !user.IsActive {
			return token.Subject{}, shared.Inactivef("identity: user %d", userID)
		}
		return token.Subject{UserID: user.ID, Username: user.Username, IsSystem: user.IsSystem}, nil
	})
}

// Logout revokes the presented refresh token. The access token stays valid
// until its own expiry since validation is stateless.
func (s *Service) Logout(ctx context.Context, refreshValue string, actorID int64) error {
	if err := s.tokens.RevokeByValue(ctx, refreshValue, actorID); err != nil {
		return err
	}
	s.emit(ctx, actorID, "identity.logout", actorID, nil)
	return nil
}

// LogoutAll revokes every active token the user holds.
func (s *Service) LogoutAll(ctx context.Context, userID, actorID int64) (int64, error) {
	count, err := s.tokens.RevokeAllForUser(ctx, userID, actorID)
	if err != nil {
		return 0, err
	}
	s.emit(ctx, actorID, "identity.logout_all", userID, map[string]any{"revoked": count})
	return count, nil
}

// Authorize answers whether the user may perform action on resource. The
// check fails closed: any resolution error denies.
func (s *Service) Authorize(ctx context.Context, userID int64, resource, action string) bool {
	allowed, err := s.authz.UserHasPermission(ctx, userID, resource, action)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("authorization check failed",
				slog.Int64("user_id", userID),
				slog.String("resource", resource),
				slog.String("action", action),
				slog.Any("error", err))
		}
		return false
	}
	return allowed
}

func (s *Service) emit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
