package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keystone-id/keystone/internal/token"
)

const defaultTokenRetainDays = 30

// TokenCleanup revokes freshly expired tokens and purges rows past the
// retention window. Scheduled via cron; safe to run concurrently since both
// statements are idempotent.
type TokenCleanup struct {
	tokens *token.Service
	logger *slog.Logger
}

// NewTokenCleanup constructs the cleanup handler.
func NewTokenCleanup(tokens *token.Service, logger *slog.Logger) *TokenCleanup {
	return &TokenCleanup{tokens: tokens, logger: logger}
}

// Handle processes TaskTokenCleanup tasks.
func (j *TokenCleanup) Handle(ctx context.Context, t *asynq.Task) error {
	var payload TokenCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retainDays := payload.RetainDays
	if retainDays <= 0 {
		retainDays = defaultTokenRetainDays
	}
	marked, purged, err := j.tokens.CleanupExpired(ctx, time.Duration(retainDays)*24*time.Hour)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("token cleanup", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil {
		j.logger.Info("token cleanup",
			slog.String("job", TaskTokenCleanup),
			slog.Int64("marked_expired", marked),
			slog.Int64("purged", purged))
	}
	return nil
}
