package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Outcome  string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, outcome, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, log.Outcome, metaJSON, log.At)
	return err
}

// AuditSink is the port mutations use to emit audit records.
type AuditSink interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditRecorder wraps an AuditSink so failures are logged and dropped.
// Mutations call it after the primary write commits; it must never fail
// or block the caller beyond the sink round-trip.
type AuditRecorder struct {
	sink   AuditSink
	logger *slog.Logger
}

// NewAuditRecorder constructs a fire-and-forget recorder.
func NewAuditRecorder(sink AuditSink, logger *slog.Logger) *AuditRecorder {
	return &AuditRecorder{sink: sink, logger: logger}
}

// Emit records the entry, swallowing any sink error after logging it.
func (r *AuditRecorder) Emit(ctx context.Context, log AuditLog) {
	if r == nil || r.sink == nil {
		return
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	if log.Outcome == "" {
		log.Outcome = "ok"
	}
	if err := r.sink.Record(ctx, log); err != nil && r.logger != nil {
		r.logger.Warn("audit record dropped",
			slog.String("action", log.Action),
			slog.String("entity", log.Entity),
			slog.String("entity_id", log.EntityID),
			slog.Any("error", err))
	}
}
