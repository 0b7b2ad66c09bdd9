package token

import "time"

// Purpose distinguishes the two credential kinds the service issues. Access
// tokens are signed JWTs validated statelessly; refresh tokens are opaque
// values whose state lives in the tokens table.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// RevocationReason records why a token stopped being usable.
type RevocationReason string

const (
	// ReasonRotation marks the old token of a refresh rotation.
	ReasonRotation RevocationReason = "token_rotation"
	// ReasonManual marks a single token revoked on request.
	ReasonManual RevocationReason = "manual_revocation"
	// ReasonBulk marks tokens swept by a revoke-all (logout everywhere).
	ReasonBulk RevocationReason = "bulk_revocation"
	// ReasonExpired marks tokens revoked by the cleanup job after expiry.
	ReasonExpired RevocationReason = "expired"
)

// State is the derived lifecycle state of a persisted token.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
	StateRotated State = "rotated"
)

// Token is a persisted credential row. Access JWTs are validated without a
// row lookup, so in practice only refresh tokens are stored.
type Token struct {
	ID               int64
	UserID           int64
	Purpose          Purpose
	Value            string
	LoginProvider    string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	IsActive         bool
	IsRevoked        bool
	RevokedAt        *time.Time
	RevokedBy        *int64
	RevocationReason RevocationReason
	ParentTokenID    *int64
	IsRotated        bool
	UsageCount       int64
	LastUsedAt       *time.Time
}

// State derives the lifecycle state at the given instant. Revocation wins
// over expiry; a rotated token reports StateRotated rather than the generic
// revoked state so callers can tell rotation chains apart.
func (t Token) State(now time.Time) State {
	if t.IsRevoked {
		if t.IsRotated {
			return StateRotated
		}
		return StateRevoked
	}
	if !t.ExpiresAt.After(now) {
		return StateExpired
	}
	return StateActive
}

// Usable reports whether the token may authenticate a request at now.
func (t Token) Usable(now time.Time) bool {
	return t.IsActive && t.State(now) == StateActive
}

// Pair is the credential set returned by login and refresh.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}
