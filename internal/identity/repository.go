package identity

import (
	"context"
	"time"
)

// Store defines persistence operations for the identity module.
type Store interface {
	// GetByLogin fetches a user by username or email.
	GetByLogin(ctx context.Context, login string) (User, error)
	// GetByID fetches a user row.
	GetByID(ctx context.Context, id int64) (User, error)
	// RecordLogin stamps last_login_at after a successful authentication.
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}
