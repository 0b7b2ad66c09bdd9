package token

import (
	"context"
	"time"
)

// Store defines persistence operations for the token module.
type Store interface {
	// Create inserts a token row and returns it with the generated id.
	Create(ctx context.Context, t Token) (Token, error)
	// GetByValue fetches a token by its opaque value and purpose.
	GetByValue(ctx context.Context, value string, purpose Purpose) (Token, error)
	// GetByID fetches a token row.
	GetByID(ctx context.Context, id int64) (Token, error)
	// ListActiveForUser returns the user's active, unexpired tokens.
	ListActiveForUser(ctx context.Context, userID int64) ([]Token, error)
	// Rotate atomically retires the old token with the rotation reason and
	// inserts its successor. Fails when the old token was already revoked.
	Rotate(ctx context.Context, oldID int64, next Token, at time.Time) (Token, error)
	// Revoke deactivates a single token. Reports false when the token was
	// already revoked or does not exist.
	Revoke(ctx context.Context, id int64, revokedBy *int64, reason RevocationReason, at time.Time) (bool, error)
	// RevokeAllForUser sweeps every active token the user holds and returns
	// how many rows changed.
	RevokeAllForUser(ctx context.Context, userID int64, revokedBy *int64, reason RevocationReason, at time.Time) (int64, error)
	// Touch bumps usage_count and last_used_at.
	Touch(ctx context.Context, id int64, at time.Time) error
	// MarkExpired deactivates active rows past their expiry, returning the
	// number of rows changed.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteExpiredBefore purges rows whose expiry is older than cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
