package token

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-id/keystone/internal/platform/db"
	"github.com/keystone-id/keystone/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const uniqueViolation = "23505"

const tokenColumns = `id, user_id, purpose, value, login_provider, issued_at, expires_at,
	is_active, is_revoked, revoked_at, revoked_by, revocation_reason,
	parent_token_id, is_rotated, usage_count, last_used_at`

func scanToken(row pgx.Row) (Token, error) {
	var (
		t      Token
		reason *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Purpose, &t.Value, &t.LoginProvider, &t.IssuedAt, &t.ExpiresAt,
		&t.IsActive, &t.IsRevoked, &t.RevokedAt, &t.RevokedBy, &reason,
		&t.ParentTokenID, &t.IsRotated, &t.UsageCount, &t.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, shared.NotFoundf("token: row")
	}
	if reason != nil {
		t.RevocationReason = RevocationReason(*reason)
	}
	return t, err
}

// Create inserts a token row.
func (r *Repository) Create(ctx context.Context, t Token) (Token, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tokens (user_id, purpose, value, login_provider, issued_at, expires_at,
			is_active, parent_token_id)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
		RETURNING `+tokenColumns,
		t.UserID, t.Purpose, t.Value, t.LoginProvider, t.IssuedAt, t.ExpiresAt, t.ParentTokenID)
	created, err := scanToken(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Token{}, shared.Conflictf("token: duplicate value")
		}
		return Token{}, err
	}
	return created, nil
}

// GetByValue fetches a token by value and purpose.
func (r *Repository) GetByValue(ctx context.Context, value string, purpose Purpose) (Token, error) {
	return scanToken(r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE value = $1 AND purpose = $2`, value, purpose))
}

// GetByID fetches a token row.
func (r *Repository) GetByID(ctx context.Context, id int64) (Token, error) {
	return scanToken(r.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, id))
}

// ListActiveForUser returns the user's active, unexpired tokens ordered by issue time.
func (r *Repository) ListActiveForUser(ctx context.Context, userID int64) ([]Token, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+tokenColumns+` FROM tokens
		WHERE user_id = $1 AND is_active AND NOT is_revoked AND expires_at > NOW()
		ORDER BY issued_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// Rotate retires the old end of a rotation chain and inserts the successor
// in one transaction, so a crash cannot leave the chain without a live head
// while the old token is already dead.
func (r *Repository) Rotate(ctx context.Context, oldID int64, next Token, at time.Time) (Token, error) {
	var created Token
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tokens SET is_active = FALSE, is_revoked = TRUE, is_rotated = TRUE,
				revoked_at = $2, revocation_reason = $3
			WHERE id = $1 AND NOT is_revoked`,
			oldID, at, ReasonRotation)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFoundf("token: %d not revocable", oldID)
		}
		created, err = scanToken(tx.QueryRow(ctx, `
			INSERT INTO tokens (user_id, purpose, value, login_provider, issued_at, expires_at,
				is_active, parent_token_id)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
			RETURNING `+tokenColumns,
			next.UserID, next.Purpose, next.Value, next.LoginProvider, next.IssuedAt, next.ExpiresAt, next.ParentTokenID))
		return err
	})
	if err != nil {
		return Token{}, err
	}
	return created, nil
}

// Revoke deactivates a single token.
func (r *Repository) Revoke(ctx context.Context, id int64, revokedBy *int64, reason RevocationReason, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE, is_revoked = TRUE,
			revoked_at = $2, revoked_by = $3, revocation_reason = $4
		WHERE id = $1 AND NOT is_revoked`,
		id, at, revokedBy, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllForUser sweeps every active token the user holds.
func (r *Repository) RevokeAllForUser(ctx context.Context, userID int64, revokedBy *int64, reason RevocationReason, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE, is_revoked = TRUE,
			revoked_at = $2, revoked_by = $3, revocation_reason = $4
		WHERE user_id = $1 AND is_active AND NOT is_revoked`,
		userID, at, revokedBy, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Touch bumps the usage counters.
func (r *Repository) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE tokens SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// MarkExpired revokes active rows past their expiry so the sweep leaves
// them in the same terminal shape as any other revocation.
func (r *Repository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tokens SET is_active = FALSE, is_revoked = TRUE, revoked_at = $1, revocation_reason = $2
		WHERE is_active AND NOT is_revoked AND expires_at <= $1`,
		now, ReasonExpired)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredBefore purges rows whose expiry predates cutoff.
func (r *Repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
